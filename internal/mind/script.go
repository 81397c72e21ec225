package mind

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed script.yaml
var defaultScript []byte

// ErrStepOutOfRange is returned for an onboarding index outside the script.
var ErrStepOutOfRange = errors.New("onboarding step out of range")

// Line names one of the fixed bot lines of a script.
type Line string

const (
	LineGreeting        Line = "greeting"
	LineAskNickname     Line = "ask_nickname"
	LineAskConsent      Line = "ask_consent"
	LineConsentDeclined Line = "consent_declined"
	LineOnboardingDone  Line = "onboarding_done"
	LineFallback        Line = "fallback"
)

type scriptFile struct {
	BotName         string     `yaml:"bot_name"`
	Greeting        string     `yaml:"greeting"`
	AskNickname     string     `yaml:"ask_nickname"`
	AskConsent      string     `yaml:"ask_consent"`
	ConsentDeclined string     `yaml:"consent_declined"`
	OnboardingDone  string     `yaml:"onboarding_done"`
	Fallback        string     `yaml:"fallback"`
	Affirmations    []string   `yaml:"affirmations"`
	Steps           []stepFile `yaml:"steps"`
	Persona         string     `yaml:"persona"`
	ProfileHeader   string     `yaml:"profile_header"`
	SummaryHeader   string     `yaml:"summary_header"`
}

type stepFile struct {
	Key    string `yaml:"key"`
	Prompt string `yaml:"prompt"`
}

type step struct {
	key    string
	prompt *template.Template
}

// Script is the immutable onboarding sequence plus the fixed lines and
// persona of the bot. It is loaded once at startup and shared by every
// session.
type Script struct {
	botName       string
	steps         []step
	lines         map[Line]*template.Template
	affirmations  []string
	persona       *template.Template
	profileHeader string
	summaryHeader string
}

// DefaultScript parses the embedded French script.
func DefaultScript() (*Script, error) {
	return ParseScript(defaultScript)
}

// LoadScript reads a script from path, or the embedded default when path is empty.
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return DefaultScript()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(b)
}

// ParseScript decodes and validates a YAML script.
func ParseScript(data []byte) (*Script, error) {
	var f scriptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}

	var problems []string
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	s := &Script{
		botName:       strings.TrimSpace(f.BotName),
		lines:         make(map[Line]*template.Template),
		affirmations:  f.Affirmations,
		profileHeader: f.ProfileHeader,
		summaryHeader: f.SummaryHeader,
	}
	if s.botName == "" {
		bad("bot_name is empty")
	}
	if len(f.Affirmations) == 0 {
		bad("affirmations are empty")
	}

	parse := func(name, text string) *template.Template {
		if strings.TrimSpace(text) == "" {
			bad("%s is empty", name)
			return nil
		}
		t, err := template.New(name).Option("missingkey=error").Parse(strings.TrimSpace(text))
		if err != nil {
			bad("%s: %v", name, err)
			return nil
		}
		// Field references are only checked on execution.
		if err := t.Execute(&strings.Builder{}, NewProfile(s.botName)); err != nil {
			bad("%s: %v", name, err)
			return nil
		}
		return t
	}

	for line, text := range map[Line]string{
		LineGreeting:        f.Greeting,
		LineAskNickname:     f.AskNickname,
		LineAskConsent:      f.AskConsent,
		LineConsentDeclined: f.ConsentDeclined,
		LineOnboardingDone:  f.OnboardingDone,
		LineFallback:        f.Fallback,
	} {
		s.lines[line] = parse(string(line), text)
	}
	s.persona = parse("persona", f.Persona)

	if len(f.Steps) == 0 {
		bad("script has no steps")
	}
	seen := make(map[string]bool)
	for i, st := range f.Steps {
		key := strings.TrimSpace(st.Key)
		switch {
		case key == "":
			bad("step %d has no key", i)
		case seen[key]:
			bad("step %d: duplicate key %q", i, key)
		}
		seen[key] = true
		s.steps = append(s.steps, step{key: key, prompt: parse(fmt.Sprintf("steps[%d]", i), st.Prompt)})
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid script: %s", strings.Join(problems, "; "))
	}
	return s, nil
}

// BotName is the default identity name given to new profiles.
func (s *Script) BotName() string { return s.botName }

// StepCount returns the number of onboarding questions.
func (s *Script) StepCount() int { return len(s.steps) }

// KeyFor returns the answer key of question i.
func (s *Script) KeyFor(i int) (string, error) {
	if i < 0 || i >= len(s.steps) {
		return "", fmt.Errorf("%w: %d of %d", ErrStepOutOfRange, i, len(s.steps))
	}
	return s.steps[i].key, nil
}

// PromptFor renders question i for profile p.
func (s *Script) PromptFor(i int, p *Profile) (string, error) {
	if i < 0 || i >= len(s.steps) {
		return "", fmt.Errorf("%w: %d of %d", ErrStepOutOfRange, i, len(s.steps))
	}
	return render(s.steps[i].prompt, p)
}

// Line renders a fixed line for profile p.
func (s *Script) Line(l Line, p *Profile) string {
	t, ok := s.lines[l]
	if !ok {
		return ""
	}
	out, err := render(t, p)
	if err != nil {
		return t.Root.String()
	}
	return out
}

// Affirmations lists the tokens accepted as consent.
func (s *Script) Affirmations() []string { return s.affirmations }

// Persona renders the persona instructions for profile p.
func (s *Script) Persona(p *Profile) string {
	out, err := render(s.persona, p)
	if err != nil {
		return s.persona.Root.String()
	}
	return out
}

func render(t *template.Template, p *Profile) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, p); err != nil {
		return "", err
	}
	return b.String(), nil
}
