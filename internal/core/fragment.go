package core

// FragmentKind distinguishes what a ChangeFragment carries.
type FragmentKind string

const (
	FragmentKindEntity       FragmentKind = "entity"
	FragmentKindRelationship FragmentKind = "relationship"
)

// FragmentOp is the mutation a ChangeFragment represents.
type FragmentOp string

const (
	FragmentOpAdd    FragmentOp = "add"
	FragmentOpUpdate FragmentOp = "update"
	FragmentOpRemove FragmentOp = "remove"
)

// ChangeFragment describes a single change event inside a sync operation.
// It is consumed exactly once per epoch; DependencyHints lists the ids of
// fragments that must commit before this one (see the dependency DAG in
// the batch processor).
type ChangeFragment struct {
	ID              string       `json:"id" validate:"required"`
	EventID         string       `json:"event_id"`
	Kind            FragmentKind `json:"kind" validate:"required"`
	Op              FragmentOp   `json:"op" validate:"required"`
	Data            any          `json:"data"`
	DependencyHints []string     `json:"dependency_hints,omitempty"`
	Confidence      float64      `json:"confidence" validate:"gte=0,lte=1"`
}
