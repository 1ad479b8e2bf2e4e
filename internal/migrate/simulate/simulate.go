// Package simulate implements the pure in-memory applier used for
// validation and dry-run (spec §4.4). Every call takes a state and
// returns a new state; the input is never mutated.
package simulate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/outpostdb/migrator/internal/migrate/migrateerr"
	"github.com/outpostdb/migrator/internal/migrate/op"
)

// Reserved discriminator values for the two metadata documents stamped
// onto every freshly created instance.
const (
	MetaInformation = "_information"
	MetaMigrations  = "_migrations"
)

// ContainerState holds one container's documents.
type ContainerState struct {
	Content []op.Document
}

// InstanceState holds one instance's documents, including its two
// reserved metadata records.
type InstanceState struct {
	Content []op.Document
}

// HistoryEntry records one applied or reversed operation, present only
// when the Applier was constructed with TrackHistory.
type HistoryEntry struct {
	Operation op.Operation
	Direction string // "forward" or "reverse"
	At        time.Time
}

// State is the simulator's value-type mirror of a database.
type State struct {
	Containers map[string]*ContainerState
	Instances  map[string]*InstanceState
	History    []HistoryEntry
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		Containers: map[string]*ContainerState{},
		Instances:  map[string]*InstanceState{},
	}
}

func (s *State) clone() *State {
	out := &State{
		Containers: make(map[string]*ContainerState, len(s.Containers)),
		Instances:  make(map[string]*InstanceState, len(s.Instances)),
		History:    append([]HistoryEntry{}, s.History...),
	}
	for name, c := range s.Containers {
		out.Containers[name] = &ContainerState{Content: cloneDocuments(c.Content)}
	}
	for name, i := range s.Instances {
		out.Instances[name] = &InstanceState{Content: cloneDocuments(i.Content)}
	}
	return out
}

// cloneDocuments deep-copies documents so user transforms that mutate
// their argument in place can never reach back into the caller's state.
func cloneDocuments(docs []op.Document) []op.Document {
	out := make([]op.Document, len(docs))
	for i, d := range docs {
		out[i] = cloneDocument(d)
	}
	return out
}

func cloneDocument(d op.Document) op.Document {
	out := make(op.Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case op.Document:
		return cloneDocument(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

// Applier is the in-memory operation interpreter. Strict mode fails on
// operations that refer to an absent container/instance, or on a failed
// transform; lenient mode degrades instead (keeps the container/instance
// unaffected or the original document unchanged).
type Applier struct {
	Strict  bool
	History bool
}

// Option configures a new Applier.
type Option func(*Applier)

// Strict enables strict mode: missing targets and failed transforms
// become errors instead of silent no-ops.
func Strict() Option {
	return func(a *Applier) { a.Strict = true }
}

// TrackHistory enables per-call HistoryEntry recording on every state
// the applier produces.
func TrackHistory() Option {
	return func(a *Applier) { a.History = true }
}

// New returns a lenient applier with history tracking off by default.
func New(opts ...Option) *Applier {
	a := &Applier{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Applier) record(s *State, o op.Operation, direction string) {
	if a.History {
		s.History = append(s.History, HistoryEntry{Operation: o, Direction: direction, At: time.Now()})
	}
}

// Apply runs o forward against state, returning a new state.
func (a *Applier) Apply(state *State, o op.Operation) (*State, error) {
	s := state.clone()
	var err error
	switch v := o.(type) {
	case op.CreateContainer:
		err = a.createContainer(s, v)
	case op.SeedContainer:
		err = a.seedContainer(s, v)
	case op.TransformContainer:
		err = a.transformContainer(s, v, true)
	case op.CreateInstance:
		err = a.createInstance(s, v)
	case op.SeedInstance:
		err = a.seedInstance(s, v)
	case op.TransformInstanceType:
		err = a.transformInstanceType(s, v, true)
	case op.UpdateIndexes:
		err = a.updateIndexes(s, v)
	default:
		return nil, migrateerr.New(migrateerr.KindDriverError, fmt.Sprintf("unknown operation kind %T", o))
	}
	if err != nil {
		return nil, err
	}
	a.record(s, o, "forward")
	return s, nil
}

// ApplyReverse runs o's reverse against state, returning a new state.
func (a *Applier) ApplyReverse(state *State, o op.Operation) (*State, error) {
	s := state.clone()
	var err error
	switch v := o.(type) {
	case op.CreateContainer:
		err = a.dropContainer(s, v)
	case op.SeedContainer:
		err = a.unseedContainer(s, v)
	case op.TransformContainer:
		err = a.transformContainer(s, v, false)
	case op.CreateInstance:
		err = a.dropInstance(s, v)
	case op.SeedInstance:
		err = a.unseedInstance(s, v)
	case op.TransformInstanceType:
		err = a.transformInstanceType(s, v, false)
	case op.UpdateIndexes:
		// Reversal is a deliberate no-op (§11 Open Question 3).
	default:
		return nil, migrateerr.New(migrateerr.KindDriverError, fmt.Sprintf("unknown operation kind %T", o))
	}
	if err != nil {
		return nil, err
	}
	a.record(s, o, "reverse")
	return s, nil
}

func (a *Applier) createContainer(s *State, v op.CreateContainer) error {
	if _, exists := s.Containers[v.Container]; exists {
		if a.Strict {
			return migrateerr.New(migrateerr.KindDriverError, "container already exists: "+v.Container)
		}
		return nil
	}
	s.Containers[v.Container] = &ContainerState{}
	return nil
}

func (a *Applier) dropContainer(s *State, v op.CreateContainer) error {
	if _, exists := s.Containers[v.Container]; !exists {
		if a.Strict {
			return migrateerr.New(migrateerr.KindMissingTarget, "container does not exist: "+v.Container)
		}
		return nil
	}
	delete(s.Containers, v.Container)
	return nil
}

func (a *Applier) seedContainer(s *State, v op.SeedContainer) error {
	c, exists := s.Containers[v.Container]
	if !exists {
		if a.Strict {
			return migrateerr.New(migrateerr.KindMissingTarget, "container does not exist: "+v.Container)
		}
		c = &ContainerState{}
		s.Containers[v.Container] = c
	}
	c.Content = append(c.Content, v.Documents...)
	return nil
}

func (a *Applier) unseedContainer(s *State, v op.SeedContainer) error {
	c, exists := s.Containers[v.Container]
	if !exists {
		if a.Strict {
			return migrateerr.New(migrateerr.KindMissingTarget, "container does not exist: "+v.Container)
		}
		return nil
	}
	ids := make(map[string]bool, len(v.Documents))
	for _, d := range v.Documents {
		ids[d.ID()] = true
	}
	kept := c.Content[:0:0]
	for _, d := range c.Content {
		if !ids[d.ID()] {
			kept = append(kept, d)
		}
	}
	c.Content = kept
	return nil
}

func (a *Applier) transformContainer(s *State, v op.TransformContainer, forward bool) error {
	fn := v.Up
	if !forward {
		fn = v.Down
	}
	if fn == nil {
		if v.Irreversible && !forward {
			return migrateerr.New(migrateerr.KindIrreversibleTransform, "container transform has no reverse: "+v.Container)
		}
		return nil
	}
	c, exists := s.Containers[v.Container]
	if !exists {
		if a.Strict {
			return migrateerr.New(migrateerr.KindMissingTarget, "container does not exist: "+v.Container)
		}
		return nil
	}
	for i, d := range c.Content {
		transformed, err := fn(d)
		if err != nil {
			if a.Strict {
				return migrateerr.Wrap(migrateerr.KindIrreversibleTransform, "transform failed for container "+v.Container, err)
			}
			continue
		}
		c.Content[i] = transformed
	}
	return nil
}

func newInstanceDocs() []op.Document {
	return []op.Document{
		{op.FieldID: MetaInformation, op.FieldDiscriminator: MetaInformation},
		{op.FieldID: MetaMigrations, op.FieldDiscriminator: MetaMigrations, "appliedMigrations": []any{}},
	}
}

func (a *Applier) createInstance(s *State, v op.CreateInstance) error {
	if _, exists := s.Instances[v.Instance]; exists {
		if a.Strict {
			return migrateerr.New(migrateerr.KindDriverError, "instance already exists: "+v.Instance)
		}
		return nil
	}
	docs := newInstanceDocs()
	docs[0]["type"] = v.Template
	s.Instances[v.Instance] = &InstanceState{Content: docs}
	return nil
}

func (a *Applier) dropInstance(s *State, v op.CreateInstance) error {
	if _, exists := s.Instances[v.Instance]; !exists {
		if a.Strict {
			return migrateerr.New(migrateerr.KindMissingTarget, "instance does not exist: "+v.Instance)
		}
		return nil
	}
	delete(s.Instances, v.Instance)
	return nil
}

func (a *Applier) seedInstance(s *State, v op.SeedInstance) error {
	i, exists := s.Instances[v.Instance]
	if !exists {
		if a.Strict {
			return migrateerr.New(migrateerr.KindMissingTarget, "instance does not exist: "+v.Instance)
		}
		i = &InstanceState{Content: newInstanceDocs()}
		s.Instances[v.Instance] = i
	}
	for _, d := range v.Documents {
		doc := op.Document{}
		for k, val := range d {
			doc[k] = val
		}
		doc[op.FieldDiscriminator] = v.TypeName
		// The synthetic ID format is not binding and may differ from the
		// live applier's.
		if doc.ID() == "" {
			doc[op.FieldID] = v.TypeName + ":" + uuid.New().String()
		}
		i.Content = append(i.Content, doc)
	}
	return nil
}

func (a *Applier) unseedInstance(s *State, v op.SeedInstance) error {
	i, exists := s.Instances[v.Instance]
	if !exists {
		if a.Strict {
			return migrateerr.New(migrateerr.KindMissingTarget, "instance does not exist: "+v.Instance)
		}
		return nil
	}
	ids := make(map[string]bool, len(v.Documents))
	for _, d := range v.Documents {
		if d.ID() != "" {
			ids[d.ID()] = true
		}
	}
	kept := i.Content[:0:0]
	for _, d := range i.Content {
		disc, _ := d[op.FieldDiscriminator].(string)
		if disc == v.TypeName && (len(ids) == 0 || ids[d.ID()]) {
			continue
		}
		kept = append(kept, d)
	}
	i.Content = kept
	return nil
}

// instancesOfTemplate returns every instance whose _information document
// declares it belongs to template.
func instancesOfTemplate(s *State, template string) []*InstanceState {
	var out []*InstanceState
	for _, inst := range s.Instances {
		for _, d := range inst.Content {
			if d.ID() == MetaInformation {
				if t, _ := d["type"].(string); t == template {
					out = append(out, inst)
				}
				break
			}
		}
	}
	return out
}

// transformInstanceType fans a transform out across every instance of
// Template. When none exist, it still runs the transform against a
// document synthesized from Schema purely to validate it compiles and
// executes cleanly; that synthesized document is never persisted.
func (a *Applier) transformInstanceType(s *State, v op.TransformInstanceType, forward bool) error {
	fn := v.Up
	if !forward {
		fn = v.Down
	}
	if fn == nil {
		if v.Irreversible && !forward {
			return migrateerr.New(migrateerr.KindIrreversibleTransform, "instance type transform has no reverse: "+v.TypeName)
		}
		return nil
	}

	instances := instancesOfTemplate(s, v.Template)
	if len(instances) == 0 {
		mock := op.Document{}
		for k, val := range v.Schema {
			mock[k] = val
		}
		mock[op.FieldDiscriminator] = v.TypeName
		if forward {
			if _, err := fn(mock); err != nil {
				return migrateerr.Wrap(migrateerr.KindIrreversibleTransform, "mock validation failed for "+v.TypeName, err)
			}
			return nil
		}
		forwardDoc, err := v.Up(mock)
		if err != nil {
			return migrateerr.Wrap(migrateerr.KindIrreversibleTransform, "mock validation failed for "+v.TypeName, err)
		}
		if _, err := fn(forwardDoc); err != nil {
			return migrateerr.Wrap(migrateerr.KindIrreversibleTransform, "mock round-trip failed for "+v.TypeName, err)
		}
		return nil
	}

	for _, inst := range instances {
		for idx, d := range inst.Content {
			disc, _ := d[op.FieldDiscriminator].(string)
			if disc != v.TypeName {
				continue
			}
			transformed, err := fn(d)
			if err != nil {
				if a.Strict {
					return migrateerr.Wrap(migrateerr.KindIrreversibleTransform, "transform failed for type "+v.TypeName, err)
				}
				continue
			}
			inst.Content[idx] = transformed
		}
	}
	return nil
}

func (a *Applier) updateIndexes(s *State, v op.UpdateIndexes) error {
	if _, exists := s.Containers[v.Container]; !exists {
		if a.Strict {
			return migrateerr.New(migrateerr.KindMissingTarget, "container does not exist: "+v.Container)
		}
	}
	// Indexes are not modeled in the in-memory mirror; this operation
	// only validates the target container exists.
	return nil
}

// Equal compares two states for testing purposes, ignoring history and
// any instance whose name ends in the reserved "_test_simulation"
// suffix used by appliers that choose to persist fabricated validation
// data (this simulator never does, but downstream appliers may).
func Equal(a, b *State) bool {
	return containersEqual(a.Containers, b.Containers) && instancesEqual(a.Instances, b.Instances)
}

const testSimulationSuffix = "_test_simulation"

func containersEqual(a, b map[string]*ContainerState) bool {
	if len(a) != len(b) {
		return false
	}
	for name, ac := range a {
		bc, ok := b[name]
		if !ok || len(ac.Content) != len(bc.Content) {
			return false
		}
		for i := range ac.Content {
			if !documentEqual(ac.Content[i], bc.Content[i]) {
				return false
			}
		}
	}
	return true
}

func instancesEqual(a, b map[string]*InstanceState) bool {
	filter := func(m map[string]*InstanceState) map[string]*InstanceState {
		out := map[string]*InstanceState{}
		for k, v := range m {
			if len(k) >= len(testSimulationSuffix) && k[len(k)-len(testSimulationSuffix):] == testSimulationSuffix {
				continue
			}
			out[k] = v
		}
		return out
	}
	fa, fb := filter(a), filter(b)
	if len(fa) != len(fb) {
		return false
	}
	for name, ai := range fa {
		bi, ok := fb[name]
		if !ok || len(ai.Content) != len(bi.Content) {
			return false
		}
		for i := range ai.Content {
			if !documentEqual(ai.Content[i], bi.Content[i]) {
				return false
			}
		}
	}
	return true
}

func documentEqual(a, b op.Document) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
