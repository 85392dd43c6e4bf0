package command

import "strings"

var (
	workoutIntents = []string{"create", "edit", "delete"}

	workoutActions = []string{
		"create_workouts",
		"create_plan",
		"edit_workout",
		"add_exercise",
		"remove_exercise",
		"replace_exercise",
		"delete_workout",
		"delete_plan",
	}

	workoutTypes = []string{"strength", "cardio", "hiit", "flexibility", "functional", "mobility"}

	difficulties = []string{"iniciante", "intermediario", "avancado"}
)

// DefaultWorkoutMessage is used when the model omits "message".
const DefaultWorkoutMessage = "Your workout plan is ready."

const maxAlternatives = 3

var exerciseSchema = []field{
	required("name", nonEmptyString, "must be a non-empty string").then(trimmed),
	optional("sets", positiveInt, float64(3)).then(rounded),
	optional("reps", nonEmptyString, "8-12").then(trimmed),
	optional("rest", nonNegativeInt, float64(60)).then(rounded),
	optional("notes", isString, ""),
	optional("alternatives", isArray, []any{}).then(nonEmptyStrings(maxAlternatives)),
}

var workoutSchema = []field{
	optional("id", isString, ""),
	required("title", nonEmptyString, "must be a non-empty string").then(trimmed),
	optional("description", isString, ""),
	required("type", oneOf(workoutTypes...), "must be one of "+strings.Join(workoutTypes, ", ")),
	required("muscleGroup", nonEmptyString, "must be a non-empty string").then(trimmed),
	required("difficulty", oneOf(difficulties...), "must be one of "+strings.Join(difficulties, ", ")),
	optional("duration", nonNegativeInt, float64(0)).then(rounded),
	optional("exercises", isArray, []any{}).each(exerciseSchema...),
}

var workoutCommandSchema = []field{
	required("intent", oneOf(workoutIntents...), "must be one of "+strings.Join(workoutIntents, ", ")),
	required("action", oneOf(workoutActions...), "must be one of "+strings.Join(workoutActions, ", ")),
	required("workouts", isArray, "must be an array").each(workoutSchema...),
	optional("message", nonEmptyString, DefaultWorkoutMessage).then(trimmed),
}

type Exercise struct {
	Name         string   `json:"name"`
	Sets         int      `json:"sets"`
	Reps         string   `json:"reps"`
	Rest         int      `json:"rest"`
	Notes        string   `json:"notes"`
	Alternatives []string `json:"alternatives"`
}

type Workout struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Type        string     `json:"type"`
	MuscleGroup string     `json:"muscleGroup"`
	Difficulty  string     `json:"difficulty"`
	Duration    int        `json:"duration"`
	Exercises   []Exercise `json:"exercises"`
}

// WorkoutCommand mutates a user's workout plan.
type WorkoutCommand struct {
	Intent   string    `json:"intent"`
	Action   string    `json:"action"`
	Workouts []Workout `json:"workouts"`
	Message  string    `json:"message"`
}

func (*WorkoutCommand) Kind() Kind        { return KindWorkout }
func (c *WorkoutCommand) Summary() string { return c.Message }
func (*WorkoutCommand) sealed()           {}

// ParseWorkout validates raw model output as a workout command.
func ParseWorkout(raw string) (*WorkoutCommand, error) {
	var cmd WorkoutCommand
	if err := decode(raw, workoutCommandSchema, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}
