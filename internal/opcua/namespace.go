// Package opcua binds the simulated address space to the gopcua server.
//
// Namespace implements the stack's NameSpace contract on top of the
// point registry: reads are answered from the registry, client writes go
// through the registry's access rules and scheduler ticks are turned into
// change notifications for subscribed clients.
package opcua

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/addrspace"
	"github.com/KevinKickass/OpenMachineSim/internal/registry"
	"github.com/KevinKickass/OpenMachineSim/internal/scheduler"
	"github.com/KevinKickass/OpenMachineSim/internal/types"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/server"
	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"
)

var (
	ErrDuplicateNode = errors.New("node already exists")
	ErrUnknownParent = errors.New("parent node not found")
	ErrRootExists    = errors.New("root container already added")
)

// Notifier forwards value changes to the subscription machinery.
type Notifier interface {
	ChangeNotification(n *ua.NodeID)
}

// WriteObserver is told about every client write and its outcome.
type WriteObserver interface {
	WriteObserved(surface string, err error)
}

type node struct {
	id       *ua.NodeID
	class    ua.NodeClass
	browse   string
	display  string
	desc     string
	parent   *node
	children []*node

	// nil for containers
	variable *addrspace.Variable
	dataType *ua.NodeID

	srv *server.Node
}

// Namespace is the custom namespace holding the root, device and point
// nodes.
type Namespace struct {
	uri    string
	logger *zap.Logger

	mu       sync.RWMutex
	id       uint16
	nodes    map[string]*node
	external map[string]*server.Node
	root     *node
	notifier Notifier
	writes   WriteObserver
	now      func() time.Time
}

type NamespaceOption func(*Namespace)

func WithWriteObserver(o WriteObserver) NamespaceOption {
	return func(ns *Namespace) {
		ns.writes = o
	}
}

func WithNamespaceClock(now func() time.Time) NamespaceOption {
	return func(ns *Namespace) {
		ns.now = now
	}
}

// NewNamespace creates an empty namespace published under uri. Its index
// is assigned when it is added to a server.
func NewNamespace(uri string, logger *zap.Logger, opts ...NamespaceOption) *Namespace {
	ns := &Namespace{
		uri:      uri,
		logger:   logger,
		nodes:    make(map[string]*node),
		external: make(map[string]*server.Node),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(ns)
	}
	return ns
}

// SetNotifier wires change notifications, normally to the running server.
func (ns *Namespace) SetNotifier(n Notifier) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.notifier = n
}

func (ns *Namespace) Name() string { return ns.uri }

func (ns *Namespace) ID() uint16 {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.id
}

func (ns *Namespace) SetID(id uint16) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.id = id
}

// AddNode stores a node created outside the simulated address space.
func (ns *Namespace) AddNode(n *server.Node) *server.Node {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.external[n.ID().String()] = n
	return n
}

func (ns *Namespace) Node(nid *ua.NodeID) *server.Node {
	if nid == nil {
		return nil
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if n, ok := ns.nodes[nid.String()]; ok {
		return n.srv
	}
	return ns.external[nid.String()]
}

// Root returns the custom root container, nil before it has been added.
func (ns *Namespace) Root() *server.Node {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if ns.root == nil {
		return nil
	}
	return ns.root.srv
}

// Objects returns the custom root as well; the namespace has no folder of
// its own above it.
func (ns *Namespace) Objects() *server.Node {
	return ns.Root()
}

// AddContainer adds the custom root (no parent) or a device.
func (ns *Namespace) AddContainer(c addrspace.Container) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	n := &node{
		id:      NodeID(c.Address),
		class:   ua.NodeClassObject,
		browse:  c.BrowseName,
		display: c.DisplayName,
		desc:    c.Description,
	}

	if c.Parent == nil {
		if ns.root != nil {
			return ErrRootExists
		}
	} else {
		parent, ok := ns.nodes[NodeID(*c.Parent).String()]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParent, c.Parent)
		}
		n.parent = parent
	}

	if err := ns.insert(n); err != nil {
		return err
	}
	if c.Parent == nil {
		ns.root = n
	}

	ns.logger.Debug("Container node added",
		zap.String("browse_name", c.BrowseName),
		zap.String("node_id", n.id.String()))
	return nil
}

// AddVariable adds a point node below its device.
func (ns *Namespace) AddVariable(v addrspace.Variable) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	parent, ok := ns.nodes[NodeID(v.Parent).String()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParent, v.Parent)
	}
	dt, err := DataTypeID(v.DataType)
	if err != nil {
		return err
	}

	variable := v
	n := &node{
		id:       NodeID(v.Address),
		class:    ua.NodeClassVariable,
		browse:   v.BrowseName,
		display:  v.DisplayName,
		desc:     v.Description,
		parent:   parent,
		variable: &variable,
		dataType: dt,
	}
	if err := ns.insert(n); err != nil {
		return err
	}

	ns.logger.Debug("Variable node added",
		zap.String("point", v.Accessor.Point()),
		zap.String("node_id", n.id.String()),
		zap.String("data_type", string(v.DataType)))
	return nil
}

// insert must be called with ns.mu held.
func (ns *Namespace) insert(n *node) error {
	key := n.id.String()
	if _, dup := ns.nodes[key]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, key)
	}

	attrs := map[ua.AttributeID]*ua.DataValue{
		ua.AttributeIDNodeClass:   server.DataValueFromValue(uint32(n.class)),
		ua.AttributeIDBrowseName:  server.DataValueFromValue(&ua.QualifiedName{NamespaceIndex: ns.id, Name: n.browse}),
		ua.AttributeIDDisplayName: server.DataValueFromValue(ua.NewLocalizedText(n.display)),
	}
	var value func() *ua.DataValue
	if n.variable != nil {
		value = func() *ua.DataValue { return ns.valueOf(n) }
	}
	n.srv = server.NewNode(n.id, attrs, nil, value)

	ns.nodes[key] = n
	if n.parent != nil {
		n.parent.children = append(n.parent.children, n)
	}
	return nil
}

func (ns *Namespace) lookup(nid *ua.NodeID) *node {
	if nid == nil {
		return nil
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.nodes[nid.String()]
}

// Attribute answers a read. Value reads return the last committed sample.
func (ns *Namespace) Attribute(nid *ua.NodeID, attr ua.AttributeID) *ua.DataValue {
	n := ns.lookup(nid)
	if n == nil {
		return statusValue(ua.StatusBadNodeIDUnknown)
	}

	switch attr {
	case ua.AttributeIDNodeID:
		return ns.constant(n.id)
	case ua.AttributeIDNodeClass:
		return ns.constant(int32(n.class))
	case ua.AttributeIDBrowseName:
		return ns.constant(&ua.QualifiedName{NamespaceIndex: ns.ID(), Name: n.browse})
	case ua.AttributeIDDisplayName:
		return ns.constant(ua.NewLocalizedText(n.display))
	case ua.AttributeIDDescription:
		return ns.constant(ua.NewLocalizedText(n.desc))
	case ua.AttributeIDWriteMask, ua.AttributeIDUserWriteMask:
		return ns.constant(uint32(0))
	}

	if n.variable == nil {
		if attr == ua.AttributeIDEventNotifier {
			return ns.constant(byte(0))
		}
		return statusValue(ua.StatusBadAttributeIDInvalid)
	}

	v := n.variable
	switch attr {
	case ua.AttributeIDValue:
		return ns.valueOf(n)
	case ua.AttributeIDDataType:
		return ns.constant(n.dataType)
	case ua.AttributeIDValueRank:
		return ns.constant(int32(-1))
	case ua.AttributeIDAccessLevel, ua.AttributeIDUserAccessLevel:
		return ns.constant(AccessLevel(v.Access))
	case ua.AttributeIDMinimumSamplingInterval:
		return ns.constant(float64(v.MinimumSamplingInterval) / float64(time.Millisecond))
	case ua.AttributeIDHistorizing:
		return ns.constant(false)
	}
	return statusValue(ua.StatusBadAttributeIDInvalid)
}

func (ns *Namespace) constant(v interface{}) *ua.DataValue {
	variant, err := ua.NewVariant(v)
	if err != nil {
		return statusValue(ua.StatusBadInternalError)
	}
	return &ua.DataValue{
		EncodingMask:    ua.DataValueValue | ua.DataValueServerTimestamp,
		Value:           variant,
		ServerTimestamp: ns.now(),
	}
}

func (ns *Namespace) valueOf(n *node) *ua.DataValue {
	sample := n.variable.Accessor.Get()
	variant, err := ua.NewVariant(sample.Value)
	if err != nil {
		ns.logger.Warn("Point value cannot be encoded",
			zap.String("point", n.variable.Accessor.Point()),
			zap.String("value", types.FormatValue(sample.Value)),
			zap.Error(err))
		return statusValue(ua.StatusBadTypeMismatch)
	}
	return &ua.DataValue{
		EncodingMask: ua.DataValueValue | ua.DataValueStatusCode |
			ua.DataValueSourceTimestamp | ua.DataValueServerTimestamp,
		Value:           variant,
		Status:          statusCode(sample.Status),
		SourceTimestamp: sample.Timestamp,
		ServerTimestamp: ns.now(),
	}
}

// SetAttribute answers a client write. Only the Value attribute of static
// points is writable; the registry decides whether the value is accepted.
func (ns *Namespace) SetAttribute(nid *ua.NodeID, attr ua.AttributeID, val *ua.DataValue) ua.StatusCode {
	n := ns.lookup(nid)
	if n == nil {
		return ua.StatusBadNodeIDUnknown
	}
	if n.variable == nil || attr != ua.AttributeIDValue {
		return ua.StatusBadNotWritable
	}

	point := n.variable.Accessor.Point()
	if val == nil || val.Value == nil {
		ns.observeWrite(fmt.Errorf("%w: empty value", types.ErrTypeMismatch))
		return ua.StatusBadTypeMismatch
	}

	err := n.variable.Accessor.Set(val.Value.Value())
	ns.observeWrite(err)

	switch {
	case err == nil:
	case errors.Is(err, registry.ErrReadOnly):
		ns.logger.Debug("Write to read-only point rejected", zap.String("point", point))
		return ua.StatusBadNotWritable
	case errors.Is(err, types.ErrTypeMismatch):
		ns.logger.Debug("Write rejected", zap.String("point", point), zap.Error(err))
		return ua.StatusBadTypeMismatch
	default:
		ns.logger.Error("Write failed", zap.String("point", point), zap.Error(err))
		return ua.StatusBadInternalError
	}

	ns.notify(n.id)
	return ua.StatusOK
}

func (ns *Namespace) observeWrite(err error) {
	if ns.writes != nil {
		ns.writes.WriteObserved("opcua", err)
	}
}

func (ns *Namespace) notify(nid *ua.NodeID) {
	ns.mu.RLock()
	notifier := ns.notifier
	ns.mu.RUnlock()
	if notifier != nil {
		notifier.ChangeNotification(nid)
	}
}

// Publish feeds a committed scheduler tick to subscribed clients.
func (ns *Namespace) Publish(u scheduler.Update) error {
	nid := NodeID(u.Address)
	if ns.lookup(nid) == nil {
		return fmt.Errorf("publish %s: node %s not in namespace", u.Point, nid)
	}
	ns.notify(nid)
	return nil
}

// Browse lists the references of a node in the simulated hierarchy:
// root Organizes devices, devices HasComponent points, and every node
// HasTypeDefinition its base type.
func (ns *Namespace) Browse(bd *ua.BrowseDescription) *ua.BrowseResult {
	if bd == nil {
		return &ua.BrowseResult{StatusCode: ua.StatusBadNodeIDUnknown}
	}
	n := ns.lookup(bd.NodeID)
	if n == nil {
		return &ua.BrowseResult{StatusCode: ua.StatusBadNodeIDUnknown}
	}

	forward := bd.BrowseDirection == ua.BrowseDirectionForward || bd.BrowseDirection == ua.BrowseDirectionBoth
	inverse := bd.BrowseDirection == ua.BrowseDirectionInverse || bd.BrowseDirection == ua.BrowseDirectionBoth

	ns.mu.RLock()
	defer ns.mu.RUnlock()

	var refs []*ua.ReferenceDescription
	add := func(rd *ua.ReferenceDescription) {
		if !referenceMatches(bd, rd) {
			return
		}
		refs = append(refs, rd)
	}

	if forward {
		for _, c := range n.children {
			add(ns.describe(hierarchyRef(c), true, c))
		}
		add(typeDefinitionRef(n))
	}
	if inverse {
		if n.parent != nil {
			add(ns.describe(hierarchyRef(n), false, n.parent))
		} else {
			add(rootFolderRef())
		}
	}

	return &ua.BrowseResult{
		StatusCode: ua.StatusOK,
		References: refs,
	}
}

// hierarchyRef is the reference type that links n to its parent.
func hierarchyRef(n *node) uint32 {
	if n.variable != nil {
		return id.HasComponent
	}
	return id.Organizes
}

func typeDefinitionOf(n *node) uint32 {
	if n.variable != nil {
		return id.BaseDataVariableType
	}
	return id.BaseObjectType
}

func (ns *Namespace) describe(refType uint32, isForward bool, target *node) *ua.ReferenceDescription {
	return &ua.ReferenceDescription{
		ReferenceTypeID: ua.NewNumericNodeID(0, refType),
		IsForward:       isForward,
		NodeID:          &ua.ExpandedNodeID{NodeID: target.id},
		BrowseName:      &ua.QualifiedName{NamespaceIndex: ns.id, Name: target.browse},
		DisplayName:     ua.NewLocalizedText(target.display),
		NodeClass:       target.class,
		TypeDefinition:  &ua.ExpandedNodeID{NodeID: ua.NewNumericNodeID(0, typeDefinitionOf(target))},
	}
}

func typeDefinitionRef(n *node) *ua.ReferenceDescription {
	typeID := typeDefinitionOf(n)
	class := ua.NodeClassObjectType
	name := "BaseObjectType"
	if n.variable != nil {
		class = ua.NodeClassVariableType
		name = "BaseDataVariableType"
	}
	return &ua.ReferenceDescription{
		ReferenceTypeID: ua.NewNumericNodeID(0, id.HasTypeDefinition),
		IsForward:       true,
		NodeID:          &ua.ExpandedNodeID{NodeID: ua.NewNumericNodeID(0, typeID)},
		BrowseName:      &ua.QualifiedName{Name: name},
		DisplayName:     ua.NewLocalizedText(name),
		NodeClass:       class,
		TypeDefinition:  &ua.ExpandedNodeID{NodeID: ua.NewNumericNodeID(0, 0)},
	}
}

func rootFolderRef() *ua.ReferenceDescription {
	return &ua.ReferenceDescription{
		ReferenceTypeID: ua.NewNumericNodeID(0, id.Organizes),
		IsForward:       false,
		NodeID:          &ua.ExpandedNodeID{NodeID: ua.NewNumericNodeID(0, id.RootFolder)},
		BrowseName:      &ua.QualifiedName{Name: "Root"},
		DisplayName:     ua.NewLocalizedText("Root"),
		NodeClass:       ua.NodeClassObject,
		TypeDefinition:  &ua.ExpandedNodeID{NodeID: ua.NewNumericNodeID(0, id.FolderType)},
	}
}

// referenceMatches applies the reference type and node class filters of a
// browse request.
func referenceMatches(bd *ua.BrowseDescription, rd *ua.ReferenceDescription) bool {
	if bd.NodeClassMask != 0 && bd.NodeClassMask&uint32(rd.NodeClass) == 0 {
		return false
	}

	want := bd.ReferenceTypeID
	if want == nil || (want.Namespace() == 0 && want.IntID() == 0) {
		return true
	}
	got := rd.ReferenceTypeID.IntID()
	if want.Namespace() != 0 {
		return false
	}
	if want.IntID() == got {
		return true
	}
	if !bd.IncludeSubtypes {
		return false
	}
	switch want.IntID() {
	case id.References:
		return true
	case id.HierarchicalReferences:
		return got == id.Organizes || got == id.HasComponent
	case id.NonHierarchicalReferences:
		return got == id.HasTypeDefinition
	case id.Aggregates:
		return got == id.HasComponent
	}
	return false
}
