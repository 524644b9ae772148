package console

import (
	"strings"

	"github.com/chzyer/readline"
)

const (
	Yes = "y"
	No  = "n"
)

var yesNoConstraints = []string{Yes, No}

// YesOrNo asks a yes/no question, defaulting to yes on empty input.
func YesOrNo(question string) (string, error) {
	return Prompt(question, yesNoConstraints...)
}

// Prompt reads one line of input. With constraints the first one acts as the
// default, applied on empty or unmatched input.
func Prompt(question string, constraints ...string) (string, error) {
	rl, err := readline.New(promptString(question, constraints))
	if err != nil {
		return "", err
	}
	response, err := rl.Readline()
	if err != nil {
		return "", err
	}
	if len(constraints) == 0 {
		return response, nil
	}
	return normalize(response, constraints), nil
}

func promptString(question string, constraints []string) string {
	if len(constraints) == 0 {
		return question
	}
	var prompt strings.Builder
	prompt.WriteString(question)
	prompt.WriteString(" [")
	prompt.WriteString(strings.ToUpper(constraints[0]))
	for i := 1; i < len(constraints); i++ {
		prompt.WriteString("/")
		prompt.WriteString(constraints[i])
	}
	prompt.WriteString("]:")
	return prompt.String()
}

func normalize(response string, constraints []string) string {
	if response == "" {
		return constraints[0]
	}
	lowered := strings.ToLower(response)
	for _, c := range constraints {
		if lowered == c {
			return lowered
		}
	}
	// no constraint matched, fall back to the default
	return constraints[0]
}
