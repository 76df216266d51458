package bandit

// Category groups arms by the decision they tune.
type Category string

const (
	CategoryPlan      Category = "plan"
	CategoryPrompt    Category = "prompt"
	CategoryRetrieval Category = "retrieval"
	CategorySearch    Category = "search"
	CategoryTest      Category = "test"
	CategoryModel     Category = "model"
)

// Arm is one learnable choice. Keys are namespaced "category::name".
type Arm struct {
	Key         string         `json:"key"`
	Category    Category       `json:"category"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config"`
}

var planArms = []Arm{
	{Key: "plan::direct", Category: CategoryPlan, Description: "Single-pass direct execution"},
	{Key: "plan::decompose", Category: CategoryPlan, Description: "Break goal into sub-steps"},
	{Key: "plan::search_first", Category: CategoryPlan, Description: "Explore search space before acting"},
	{Key: "plan::ask_user", Category: CategoryPlan, Description: "Ask clarification when uncertain"},
}

var promptArms = []Arm{
	{Key: "prompt::minimal", Category: CategoryPrompt, Description: "Short patch prompt - minimal context",
		Config: map[string]any{"style": "minimal", "max_tokens": 500}},
	{Key: "prompt::detailed", Category: CategoryPrompt, Description: "Verbose structured prompt with examples",
		Config: map[string]any{"style": "detailed", "max_tokens": 2000}},
	{Key: "prompt::chain", Category: CategoryPrompt, Description: "Chain-of-thought: reason then act",
		Config: map[string]any{"style": "chain_of_thought", "max_tokens": 1500}},
	{Key: "prompt::few_shot", Category: CategoryPrompt, Description: "Few-shot examples from similar tasks",
		Config: map[string]any{"style": "few_shot", "max_tokens": 2500}},
}

var retrievalArms = []Arm{
	{Key: "retrieval::none", Category: CategoryRetrieval, Description: "No file context - goal only",
		Config: map[string]any{"strategy": "none", "files": 0}},
	{Key: "retrieval::top2", Category: CategoryRetrieval, Description: "Top 2 most relevant files",
		Config: map[string]any{"strategy": "top_k", "files": 2}},
	{Key: "retrieval::top5", Category: CategoryRetrieval, Description: "Top 5 most relevant files",
		Config: map[string]any{"strategy": "top_k", "files": 5}},
	{Key: "retrieval::focused", Category: CategoryRetrieval, Description: "Focused: only files mentioned in error",
		Config: map[string]any{"strategy": "focused", "files": -1}},
	{Key: "retrieval::full", Category: CategoryRetrieval, Description: "Full context: all related files",
		Config: map[string]any{"strategy": "full", "files": 10}},
}

var searchArms = []Arm{
	{Key: "search::greedy", Category: CategorySearch, Description: "Greedy: single attempt",
		Config: map[string]any{"beam": 1, "depth": 1, "samples": 1}},
	{Key: "search::beam3", Category: CategorySearch, Description: "Small beam search",
		Config: map[string]any{"beam": 3, "depth": 3, "samples": 3}},
	{Key: "search::beam5", Category: CategorySearch, Description: "Wide beam search",
		Config: map[string]any{"beam": 5, "depth": 5, "samples": 5}},
	{Key: "search::iterative", Category: CategorySearch, Description: "Iterative refinement",
		Config: map[string]any{"beam": 1, "depth": 5, "samples": 1, "refine": true}},
}

var testArms = []Arm{
	{Key: "test::targeted", Category: CategoryTest, Description: "Run only failing tests first",
		Config: map[string]any{"scope": "targeted", "timeout": 60}},
	{Key: "test::related", Category: CategoryTest, Description: "Run tests related to changed files",
		Config: map[string]any{"scope": "related", "timeout": 120}},
	{Key: "test::full", Category: CategoryTest, Description: "Run full test suite",
		Config: map[string]any{"scope": "full", "timeout": 300}},
}

var modelArms = []Arm{
	{Key: "model::fast", Category: CategoryModel, Description: "Small fast model",
		Config: map[string]any{"tier": "fast"}},
	{Key: "model::strong", Category: CategoryModel, Description: "Large capable model",
		Config: map[string]any{"tier": "strong"}},
}

var armsByCategory = map[Category][]Arm{
	CategoryPlan:      planArms,
	CategoryPrompt:    promptArms,
	CategoryRetrieval: retrievalArms,
	CategorySearch:    searchArms,
	CategoryTest:      testArms,
	CategoryModel:     modelArms,
}

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryPlan, CategoryPrompt, CategoryRetrieval,
	CategorySearch, CategoryTest, CategoryModel,
}

// Arms returns the catalog for one category.
func Arms(c Category) []Arm {
	arms := armsByCategory[c]
	out := make([]Arm, len(arms))
	copy(out, arms)
	return out
}

// AllArms returns the full catalog in category order.
func AllArms() []Arm {
	var out []Arm
	for _, c := range Categories {
		out = append(out, armsByCategory[c]...)
	}
	return out
}

// GetArm looks up an arm by its namespaced key.
func GetArm(key string) (Arm, bool) {
	for _, arms := range armsByCategory {
		for _, a := range arms {
			if a.Key == key {
				return a, true
			}
		}
	}
	return Arm{}, false
}
