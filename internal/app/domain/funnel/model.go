// Package funnel defines the scripted onboarding chain: a linear sequence of
// named steps, each with a token cost to leave it and an optional reward for
// completing it.
package funnel

import (
	"fmt"
	"strings"
	"time"
)

// InitialStep is where every chain starts and where new users are enrolled.
const InitialStep = "start"

// RefCodePlaceholder in a step message is replaced with the user's referral
// code when the step is rendered.
const RefCodePlaceholder = "{refCode}"

// Step is one node of the chain. A step with an empty NextStep is terminal:
// users at it cannot advance further.
type Step struct {
	Name     string `yaml:"name" json:"name"`
	Message  string `yaml:"message" json:"message"`
	Cost     int64  `yaml:"cost" json:"cost"`
	Reward   int64  `yaml:"reward" json:"reward"`
	NextStep string `yaml:"next" json:"next,omitempty"`
}

// Terminal reports whether the step ends the chain.
func (s Step) Terminal() bool { return s.NextStep == "" }

// Render substitutes the user's referral code into the step message.
func (s Step) Render(refCode string) string {
	return strings.ReplaceAll(s.Message, RefCodePlaceholder, refCode)
}

// Progress is a user's cursor in the chain.
type Progress struct {
	UserID         string    `json:"user_id"`
	CurrentStep    string    `json:"current_step"`
	CompletedSteps []string  `json:"completed_steps"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Chain is a validated step sequence, immutable after construction.
type Chain struct {
	steps map[string]Step
	first Step
}

// NewChain validates the step list: the first step must be named
// InitialStep, names are unique, every NextStep resolves, and exactly one
// step is terminal.
func NewChain(steps []Step) (*Chain, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("chain needs at least one step")
	}
	if steps[0].Name != InitialStep {
		return nil, fmt.Errorf("chain must begin at %q, got %q", InitialStep, steps[0].Name)
	}

	byName := make(map[string]Step, len(steps))
	terminals := 0
	for _, step := range steps {
		if step.Name == "" {
			return nil, fmt.Errorf("step with empty name")
		}
		if _, dup := byName[step.Name]; dup {
			return nil, fmt.Errorf("duplicate step %q", step.Name)
		}
		if step.Cost < 0 || step.Reward < 0 {
			return nil, fmt.Errorf("step %q: cost and reward must not be negative", step.Name)
		}
		byName[step.Name] = step
		if step.Terminal() {
			terminals++
		}
	}

	if terminals != 1 {
		return nil, fmt.Errorf("chain must have exactly one terminal step, got %d", terminals)
	}
	for _, step := range steps {
		if step.Terminal() {
			continue
		}
		if _, ok := byName[step.NextStep]; !ok {
			return nil, fmt.Errorf("step %q links to unknown step %q", step.Name, step.NextStep)
		}
	}

	return &Chain{steps: byName, first: steps[0]}, nil
}

// Step looks up a step by name.
func (c *Chain) Step(name string) (Step, bool) {
	s, ok := c.steps[name]
	return s, ok
}

// Initial returns the enrollment step.
func (c *Chain) Initial() Step { return c.first }

// Len returns the number of steps in the chain.
func (c *Chain) Len() int { return len(c.steps) }

// DefaultSteps is the compiled-in onboarding script. Deployments override it
// with a steps file.
func DefaultSteps() []Step {
	return []Step{
		{
			Name:     "start",
			Message:  "Welcome to Lazy Lord! Your throne awaits. Tap to claim your first quest.",
			Cost:     0,
			NextStep: "step1",
		},
		{
			Name:     "step1",
			Message:  "Your castle needs workers. Hire your first peasant to start earning.",
			Cost:     10,
			NextStep: "step2",
		},
		{
			Name:     "step2",
			Message:  "The harvest is in! Collect your reward and upgrade the granary.",
			Cost:     20,
			Reward:   50,
			NextStep: "step3",
		},
		{
			Name:     "step3",
			Message:  "Neighboring lords are watching. Fortify your walls before nightfall.",
			Cost:     30,
			NextStep: "step4",
		},
		{
			Name:     "step4",
			Message:  "Spread the word of your realm! Share your code {refCode} and earn from every lord who joins.",
			Cost:     50,
			Reward:   200,
			NextStep: "finish",
		},
		{
			Name:    "finish",
			Message: "Your realm is established, my lord. Rule wisely.",
		},
	}
}
