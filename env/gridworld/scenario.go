package gridworld

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Hazard names one hazard cell.
type Hazard struct {
	Row int `yaml:"row"`
	Col int `yaml:"col"`
}

// Scenario is the gridworld task description. Scenario files are YAML
// and strictly host-side configuration: nothing here feeds a hash.
type Scenario struct {
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`

	AgentRow int `yaml:"agent_row"`
	AgentCol int `yaml:"agent_col"`
	GoalRow  int `yaml:"goal_row"`
	GoalCol  int `yaml:"goal_col"`

	Hazards []Hazard `yaml:"hazards"`

	RhoMax      int64 `yaml:"rho_max"`
	BudgetQ     int64 `yaml:"budget_q"`
	HazardCostQ int64 `yaml:"hazard_cost_q"`
	DriftPeriod int   `yaml:"drift_period"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc := &Scenario{}
	if err := yaml.Unmarshal(raw, sc); err != nil {
		return nil, fmt.Errorf("gridworld: parsing %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("gridworld: %s: %w", path, err)
	}
	return sc, nil
}

// Validate checks the scenario's structural invariants.
func (sc *Scenario) Validate() error {
	if sc.Rows <= 0 || sc.Cols <= 0 {
		return fmt.Errorf("rows and cols must be positive")
	}
	if !sc.inBounds(sc.AgentRow, sc.AgentCol) {
		return fmt.Errorf("agent start (%d,%d) out of bounds", sc.AgentRow, sc.AgentCol)
	}
	if !sc.inBounds(sc.GoalRow, sc.GoalCol) {
		return fmt.Errorf("goal (%d,%d) out of bounds", sc.GoalRow, sc.GoalCol)
	}
	for _, h := range sc.Hazards {
		if !sc.inBounds(h.Row, h.Col) {
			return fmt.Errorf("hazard (%d,%d) out of bounds", h.Row, h.Col)
		}
	}
	if sc.RhoMax <= 0 {
		return fmt.Errorf("rho_max must be positive")
	}
	if sc.BudgetQ < 0 || sc.HazardCostQ < 0 {
		return fmt.Errorf("budget_q and hazard_cost_q must be non-negative")
	}
	if sc.DriftPeriod < 0 {
		return fmt.Errorf("drift_period must be non-negative")
	}
	return nil
}

// Default returns the scenario used by the demo CLI when no file is
// given: a 4x4 grid with one hazard between agent and goal.
func Default() *Scenario {
	return &Scenario{
		Rows: 4, Cols: 4,
		AgentRow: 0, AgentCol: 0,
		GoalRow: 3, GoalCol: 3,
		Hazards:     []Hazard{{Row: 1, Col: 2}},
		RhoMax:      8,
		BudgetQ:     64 << 18,
		HazardCostQ: 2 << 18,
		DriftPeriod: 16,
	}
}

func (sc *Scenario) inBounds(r, c int) bool {
	return r >= 0 && r < sc.Rows && c >= 0 && c < sc.Cols
}
