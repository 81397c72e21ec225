package mind

import (
	"encoding/json"
	"maps"
	"slices"
)

// Keys seeded into Profile.DynamicInfo for every new profile.
const (
	DynamicMood     = "humeur_recente"
	DynamicTopics   = "sujets_abordes"
	DynamicPeople   = "personnes_mentionnees"
	GenderAnswerKey = "gender"
)

// Profile is what the session knows about its user. It is owned by one
// Session and only mutated from that session's worker.
type Profile struct {
	Name              string            `json:"name,omitempty"`
	BotNickname       string            `json:"bot_nickname"`
	Gender            Gender            `json:"gender"`
	OnboardingAnswers map[string]string `json:"onboarding_info"`
	DynamicInfo       map[string]any    `json:"dynamic_info"`
}

// NewProfile returns an empty profile whose bot nickname is botName.
func NewProfile(botName string) *Profile {
	return &Profile{
		BotNickname:       botName,
		Gender:            GenderUnknown,
		OnboardingAnswers: make(map[string]string),
		DynamicInfo: map[string]any{
			DynamicMood:   "inconnue",
			DynamicTopics: []string{},
			DynamicPeople: map[string]string{},
		},
	}
}

func (p *Profile) SetName(name string) {
	p.Name = name
}

// SetNickname renames the bot; an empty nickname keeps the current one.
func (p *Profile) SetNickname(nickname string) {
	if nickname != "" {
		p.BotNickname = nickname
	}
}

// RecordOnboardingAnswer stores value under key. The gender key is
// classified into p.Gender instead; an unrecognised answer keeps the
// previous value.
func (p *Profile) RecordOnboardingAnswer(key, value string) {
	if key == GenderAnswerKey {
		if g, ok := ClassifyGender(value); ok {
			p.Gender = g
		}
		return
	}
	p.OnboardingAnswers[key] = value
}

// Remember accumulates a derived fact. List facts gain the value once,
// map facts are merged, anything else is overwritten. Nothing is pruned.
func (p *Profile) Remember(key string, value any) {
	switch cur := p.DynamicInfo[key].(type) {
	case []string:
		switch v := value.(type) {
		case string:
			if !slices.Contains(cur, v) {
				p.DynamicInfo[key] = append(cur, v)
			}
			return
		case []string:
			for _, s := range v {
				if !slices.Contains(cur, s) {
					cur = append(cur, s)
				}
			}
			p.DynamicInfo[key] = cur
			return
		}
	case map[string]string:
		switch v := value.(type) {
		case map[string]string:
			for k, s := range v {
				cur[k] = s
			}
			return
		case map[string]any:
			for k, s := range v {
				if str, ok := s.(string); ok {
					cur[k] = str
				}
			}
			return
		}
	}
	p.DynamicInfo[key] = value
}

// Clone returns a deep copy suitable for handing outside the session worker.
// The shapes Remember produces ([]string, map[string]string and scalars)
// keep their Go types. Any other value is copied through JSON, so it comes
// back as the generic []any / map[string]any form.
func (p *Profile) Clone() Profile {
	out := *p
	out.OnboardingAnswers = make(map[string]string, len(p.OnboardingAnswers))
	maps.Copy(out.OnboardingAnswers, p.OnboardingAnswers)

	out.DynamicInfo = make(map[string]any, len(p.DynamicInfo))
	for k, v := range p.DynamicInfo {
		out.DynamicInfo[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case nil, string, bool, int, int64, float64:
		return v
	case []string:
		return slices.Clone(v)
	case map[string]string:
		return maps.Clone(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
