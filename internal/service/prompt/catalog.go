package prompt

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/zhouzirui/voice-journal/backend/internal/model/journal"
)

// Template 单个会话类别的提示词
type Template struct {
	VoiceInstructions string
	InitialMessage    string
}

// Catalog manages prompt templates for the journal session types.
type Catalog struct {
	templates map[journal.SessionType]*Template
}

// NewCatalog creates a catalog preloaded with the built-in templates.
func NewCatalog() *Catalog {
	catalog := &Catalog{
		templates: make(map[journal.SessionType]*Template),
	}
	catalog.loadDefaultTemplates()
	return catalog
}

// overrideFile 是 TOML 覆盖文件的结构
type overrideFile struct {
	Voice   map[string]string `toml:"voice"`
	Initial map[string]string `toml:"initial"`
}

// LoadCatalog returns the default catalog with overrides from a TOML file.
// An empty path yields the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	catalog := NewCatalog()
	if strings.TrimSpace(path) == "" {
		return catalog, nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("prompts file %s: %w", path, err)
	}

	var overrides overrideFile
	if _, err := toml.DecodeFile(path, &overrides); err != nil {
		return nil, fmt.Errorf("parse prompts file %s: %w", path, err)
	}

	if err := catalog.apply(overrides); err != nil {
		return nil, fmt.Errorf("prompts file %s: %w", path, err)
	}
	return catalog, nil
}

func (c *Catalog) apply(overrides overrideFile) error {
	for key, text := range overrides.Voice {
		tmpl, err := c.overrideTarget(key)
		if err != nil {
			return err
		}
		tmpl.VoiceInstructions = strings.TrimSpace(text)
	}
	for key, text := range overrides.Initial {
		tmpl, err := c.overrideTarget(key)
		if err != nil {
			return err
		}
		tmpl.InitialMessage = strings.TrimSpace(text)
	}
	return nil
}

func (c *Catalog) overrideTarget(key string) (*Template, error) {
	sessionType := journal.SessionType(strings.ToLower(strings.TrimSpace(key)))
	if !sessionType.Valid() {
		return nil, fmt.Errorf("unknown session type %q", key)
	}
	return c.templates[sessionType], nil
}

// Template returns the template for a session type, falling back to the
// default type for anything unknown.
func (c *Catalog) Template(sessionType journal.SessionType) Template {
	if tmpl, ok := c.templates[sessionType]; ok {
		return *tmpl
	}
	return *c.templates[journal.DefaultSessionType]
}

// VoiceInstructions returns the instructions sent in session.update.
func (c *Catalog) VoiceInstructions(sessionType journal.SessionType) string {
	return c.Template(sessionType).VoiceInstructions
}

// InitialMessage returns the greeting shown when a session starts.
func (c *Catalog) InitialMessage(sessionType journal.SessionType) string {
	return c.Template(sessionType).InitialMessage
}

// loadDefaultTemplates loads the built-in templates
func (c *Catalog) loadDefaultTemplates() {
	c.templates[journal.Reflection] = &Template{
		VoiceInstructions: "You are a thoughtful journaling assistant helping someone reflect on their day while they're driving. " +
			"Keep responses conversational and concise. Ask one question at a time. Be empathetic and encouraging. " +
			"Help them process their thoughts safely while driving.",
		InitialMessage: "Hi! I'm here to help you reflect on your day. What's been on your mind today?",
	}

	c.templates[journal.Planning] = &Template{
		VoiceInstructions: "You are a planning assistant helping someone organize their thoughts for upcoming days while driving. " +
			"Keep responses brief and focused. Help them set realistic goals and think through challenges. " +
			"Ask clarifying questions one at a time.",
		InitialMessage: "Let's plan ahead! What are you thinking about for tomorrow or the coming days?",
	}

	c.templates[journal.Notes] = &Template{
		VoiceInstructions: "You are a note-taking assistant helping someone do a brain dump while driving. " +
			"Help them organize their thoughts clearly. Acknowledge what they've shared and ask for clarification when needed. " +
			"Keep responses short and conversational.",
		InitialMessage: "Ready for a brain dump! Tell me everything that's on your mind - I'll help you organize it.",
	}

	c.templates[journal.Goals] = &Template{
		VoiceInstructions: "You are a goal-tracking assistant helping someone review and set goals while driving. " +
			"Be encouraging and realistic. Keep responses brief and ask one question at a time. " +
			"Help them think through their objectives safely.",
		InitialMessage: "Let's talk about your goals. What would you like to work on or review?",
	}
}
