package command

// DefaultNutritionMessage is used when the model omits "message".
const DefaultNutritionMessage = "Your meal has been logged."

var foodSchema = []field{
	required("name", nonEmptyString, "must be a non-empty string").then(trimmed),
	optional("servings", positiveNumber, float64(1)),
	optional("servingSize", nonEmptyString, "100g").then(trimmed),
	optional("calories", nonNegativeNumber, float64(0)),
	optional("protein", nonNegativeNumber, float64(0)),
	optional("carbs", nonNegativeNumber, float64(0)),
	optional("fat", nonNegativeNumber, float64(0)),
	optional("confidence", unitInterval, 0.85),
}

var nutritionCommandSchema = []field{
	required("foods", isArray, "must be an array").each(foodSchema...),
	optional("message", nonEmptyString, DefaultNutritionMessage).then(trimmed),
}

// Food is one recognized item; macros are grams per the whole portion,
// calories in kcal.
type Food struct {
	Name        string  `json:"name"`
	Servings    float64 `json:"servings"`
	ServingSize string  `json:"servingSize"`
	Calories    float64 `json:"calories"`
	Protein     float64 `json:"protein"`
	Carbs       float64 `json:"carbs"`
	Fat         float64 `json:"fat"`
	Confidence  float64 `json:"confidence"`
}

// NutritionCommand logs the foods recognized in a meal description.
type NutritionCommand struct {
	Foods   []Food `json:"foods"`
	Message string `json:"message"`
}

func (*NutritionCommand) Kind() Kind        { return KindNutrition }
func (c *NutritionCommand) Summary() string { return c.Message }
func (*NutritionCommand) sealed()           {}

// ParseNutrition validates raw model output as a nutrition command.
func ParseNutrition(raw string) (*NutritionCommand, error) {
	var cmd NutritionCommand
	if err := decode(raw, nutritionCommandSchema, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}
