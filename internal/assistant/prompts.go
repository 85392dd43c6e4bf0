package assistant

import "fitcoach-gateway/internal/command"

// Structural descriptions only; the wording of coaching advice is the
// model's job.
var systemPrompts = map[command.Kind]string{
	command.KindWorkout: `You convert a user's request about their training into one JSON object and nothing else.
Shape: {"intent": "create"|"edit"|"delete", "action": "create_workouts"|"create_plan"|"edit_workout"|"add_exercise"|"remove_exercise"|"replace_exercise"|"delete_workout"|"delete_plan", "workouts": [{"id"?: string, "title": string, "description"?: string, "type": "strength"|"cardio"|"hiit"|"flexibility"|"functional"|"mobility", "muscleGroup": string, "difficulty": "iniciante"|"intermediario"|"avancado", "duration"?: minutes, "exercises": [{"name": string, "sets": number, "reps": string, "rest": seconds, "notes"?: string, "alternatives"?: [string, at most 3]}]}], "message": short confirmation for the user}.`,

	command.KindNutrition: `You extract the foods in a user's meal description into one JSON object and nothing else.
Shape: {"foods": [{"name": string, "servings": number, "servingSize": string, "calories": kcal, "protein": grams, "carbs": grams, "fat": grams, "confidence": 0..1}], "message": short confirmation for the user}.`,
}
