package changes

import (
	"fmt"
	"sync"

	pkgerrors "github.com/developer-mesh/fontedit/pkg/errors"
)

var (
	// ErrUnknownOperation is returned when a change names an operation that
	// is neither structural nor registered.
	ErrUnknownOperation = pkgerrors.New("UNKNOWN_OPERATION", "unknown change operation", pkgerrors.ClassUsage)
	// ErrOperationExists is returned when registering a name twice.
	ErrOperationExists = pkgerrors.New("OPERATION_EXISTS", "change operation already registered", pkgerrors.ClassUsage)
	// ErrPathNotFound is returned when a path segment does not resolve.
	ErrPathNotFound = pkgerrors.New("PATH_NOT_FOUND", "change path does not resolve", pkgerrors.ClassUsage)
	// ErrInvalidArguments is returned when an operation receives bad arguments.
	ErrInvalidArguments = pkgerrors.New("INVALID_ARGUMENTS", "invalid change operation arguments", pkgerrors.ClassValidation)
)

// OpKind classifies operation names. The structural kinds form a closed
// set; everything else is OpCustom and must be registered.
type OpKind int

const (
	OpCustom OpKind = iota
	OpAssign
	OpDeleteKey
	OpSpliceRemove
	OpSpliceInsert
	OpSplice
)

// Structural operation names
const (
	FuncAssign       = "="
	FuncDeleteKey    = "d"
	FuncSpliceRemove = "-"
	FuncSpliceInsert = "+"
	FuncSplice       = ":"
)

var structuralKinds = map[string]OpKind{
	FuncAssign:       OpAssign,
	FuncDeleteKey:    OpDeleteKey,
	FuncSpliceRemove: OpSpliceRemove,
	FuncSpliceInsert: OpSpliceInsert,
	FuncSplice:       OpSplice,
}

// KindOf returns the kind of an operation name.
func KindOf(name string) OpKind {
	return structuralKinds[name]
}

func (k OpKind) String() string {
	switch k {
	case OpAssign:
		return "assign"
	case OpDeleteKey:
		return "delete-key"
	case OpSpliceRemove:
		return "splice-remove"
	case OpSpliceInsert:
		return "splice-insert"
	case OpSplice:
		return "splice"
	default:
		return "custom"
	}
}

// OperationFunc mutates subject according to args. It returns the subject,
// which may be a new value (for example a resized list); the applier
// stores it back into the parent container.
type OperationFunc func(subject any, args []any) (any, error)

// Registry maps operation names to their implementations. The structural
// operations are always present; domain operations are added with Register
// before changes are applied.
type Registry struct {
	mu     sync.RWMutex
	custom map[string]OperationFunc
}

// NewRegistry returns a registry with only the structural operations.
func NewRegistry() *Registry {
	return &Registry{custom: make(map[string]OperationFunc)}
}

// Register adds a domain operation.
func (r *Registry) Register(name string, fn OperationFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("%w: empty name or nil func", ErrInvalidArguments)
	}
	if _, ok := structuralKinds[name]; ok {
		return fmt.Errorf("%w: %q is structural", ErrOperationExists, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.custom[name]; ok {
		return fmt.Errorf("%w: %q", ErrOperationExists, name)
	}
	r.custom[name] = fn
	return nil
}

// Has reports whether name can be applied.
func (r *Registry) Has(name string) bool {
	if _, ok := structuralKinds[name]; ok {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.custom[name]
	return ok
}

// Validate checks that every operation named in the tree is known.
func (r *Registry) Validate(change Change) error {
	if change.Func != "" && !r.Has(change.Func) {
		return fmt.Errorf("%w: %q", ErrUnknownOperation, change.Func)
	}
	for _, child := range change.Children {
		if err := r.Validate(child); err != nil {
			return err
		}
	}
	return nil
}

// Apply validates change and applies it to root, returning the new root.
// Unknown operation names are reported before anything is mutated.
func (r *Registry) Apply(root any, change Change) (any, error) {
	if err := r.Validate(change); err != nil {
		return root, err
	}
	return r.apply(root, change, change.Path)
}

func (r *Registry) apply(subject any, change Change, path Path) (any, error) {
	if len(path) == 0 {
		return r.applyHere(subject, change)
	}

	key := path[0]
	child, ok := getItem(subject, key)
	if !ok {
		return subject, fmt.Errorf("%w: segment %q", ErrPathNotFound, segmentKey(key))
	}
	newChild, err := r.apply(child, change, path[1:])
	if err != nil {
		return subject, err
	}
	return setItem(subject, key, newChild)
}

func (r *Registry) applyHere(subject any, change Change) (any, error) {
	var err error
	if change.Func != "" {
		subject, err = r.lookup(change.Func)(subject, change.Args)
		if err != nil {
			return subject, fmt.Errorf("operation %q: %w", change.Func, err)
		}
	}
	for _, child := range change.Children {
		subject, err = r.apply(subject, child, child.Path)
		if err != nil {
			return subject, err
		}
	}
	return subject, nil
}

func (r *Registry) lookup(name string) OperationFunc {
	switch KindOf(name) {
	case OpAssign:
		return opAssign
	case OpDeleteKey:
		return opDeleteKey
	case OpSpliceRemove:
		return opSpliceRemove
	case OpSpliceInsert:
		return opSpliceInsert
	case OpSplice:
		return opSplice
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.custom[name]
}

var structuralRegistry = NewRegistry()

// Apply applies a change that uses only structural operations.
func Apply(root any, change Change) (any, error) {
	return structuralRegistry.Apply(root, change)
}

func getItem(subject any, key any) (any, bool) {
	switch s := subject.(type) {
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return nil, false
		}
		v, ok := s[k]
		return v, ok
	case []any:
		i, ok := toIndex(key)
		if !ok || i < 0 || i >= len(s) {
			return nil, false
		}
		return s[i], true
	default:
		return nil, false
	}
}

func setItem(subject any, key any, value any) (any, error) {
	switch s := subject.(type) {
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return subject, fmt.Errorf("%w: map key %v is not a string", ErrInvalidArguments, key)
		}
		s[k] = value
		return s, nil
	case []any:
		i, ok := toIndex(key)
		if !ok || i < 0 || i >= len(s) {
			return subject, fmt.Errorf("%w: index %v out of range", ErrInvalidArguments, key)
		}
		s[i] = value
		return s, nil
	default:
		return subject, fmt.Errorf("%w: cannot set %v on %T", ErrInvalidArguments, key, subject)
	}
}

func opAssign(subject any, args []any) (any, error) {
	if len(args) != 2 {
		return subject, fmt.Errorf("%w: assign takes key and value", ErrInvalidArguments)
	}
	return setItem(subject, args[0], DeepCopy(args[1]))
}

func opDeleteKey(subject any, args []any) (any, error) {
	if len(args) != 1 {
		return subject, fmt.Errorf("%w: delete takes a key", ErrInvalidArguments)
	}
	switch s := subject.(type) {
	case map[string]any:
		k, ok := args[0].(string)
		if !ok {
			return subject, fmt.Errorf("%w: map key %v is not a string", ErrInvalidArguments, args[0])
		}
		delete(s, k)
		return s, nil
	case []any:
		i, ok := toIndex(args[0])
		if !ok {
			return subject, fmt.Errorf("%w: %v is not an index", ErrInvalidArguments, args[0])
		}
		return splice(s, i, 1, nil), nil
	default:
		return subject, fmt.Errorf("%w: cannot delete from %T", ErrInvalidArguments, subject)
	}
}

func opSpliceRemove(subject any, args []any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return subject, fmt.Errorf("%w: splice-remove takes index and count", ErrInvalidArguments)
	}
	count := 1
	if len(args) == 2 {
		var ok bool
		if count, ok = toIndex(args[1]); !ok {
			return subject, fmt.Errorf("%w: count %v", ErrInvalidArguments, args[1])
		}
	}
	return spliceArgs(subject, args[0], count, nil)
}

func opSpliceInsert(subject any, args []any) (any, error) {
	if len(args) < 1 {
		return subject, fmt.Errorf("%w: splice-insert takes an index", ErrInvalidArguments)
	}
	return spliceArgs(subject, args[0], 0, args[1:])
}

func opSplice(subject any, args []any) (any, error) {
	if len(args) < 2 {
		return subject, fmt.Errorf("%w: splice takes index and count", ErrInvalidArguments)
	}
	count, ok := toIndex(args[1])
	if !ok {
		return subject, fmt.Errorf("%w: count %v", ErrInvalidArguments, args[1])
	}
	return spliceArgs(subject, args[0], count, args[2:])
}

func spliceArgs(subject any, index any, deleteCount int, items []any) (any, error) {
	list, ok := subject.([]any)
	if !ok && subject != nil {
		return subject, fmt.Errorf("%w: cannot splice %T", ErrInvalidArguments, subject)
	}
	i, ok := toIndex(index)
	if !ok {
		return subject, fmt.Errorf("%w: %v is not an index", ErrInvalidArguments, index)
	}
	copied := make([]any, len(items))
	for j, item := range items {
		copied[j] = DeepCopy(item)
	}
	return splice(list, i, deleteCount, copied), nil
}

// splice replaces list[index:index+deleteCount] with items. Both bounds
// follow slice assignment: negative bounds count from the end, bounds past
// either end are clamped, and an end before the start deletes nothing.
func splice(list []any, index, deleteCount int, items []any) []any {
	start := sliceBound(index, len(list))
	end := sliceBound(index+deleteCount, len(list))
	if end < start {
		end = start
	}
	result := make([]any, 0, len(list)-(end-start)+len(items))
	result = append(result, list[:start]...)
	result = append(result, items...)
	result = append(result, list[end:]...)
	return result
}

func sliceBound(i, length int) int {
	if i < 0 {
		i += length
		if i < 0 {
			return 0
		}
	}
	if i > length {
		return length
	}
	return i
}
