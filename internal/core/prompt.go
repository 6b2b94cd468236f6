package core

import (
	"fmt"
	"strings"

	"github.com/anglersden/fishing-assistant/internal/store"
)

// Defaults substituted when the admin left a settings field empty. Prompt
// assembly never fails; it degrades to these.
const (
	defaultInstructions = "You are a friendly and knowledgeable fishing assistant for an online fishing tackle shop. " +
		"Help visitors choose tackle, baits and techniques for their target species and waters."
	defaultContext     = "The shop sells rods, reels, lines, lures, baits and accessories for coarse, carp, predator and sea fishing."
	defaultLanguage    = "English"
	defaultPersonality = "helpful, patient and enthusiastic about fishing"

	// FallbackAnswer is the fixed sentence the assistant is told to use when
	// a question falls outside the reference material.
	FallbackAnswer = "I'm sorry, I can only help with questions covered by our fishing guides and product knowledge. " +
		"Could you ask me something about fishing tackle, baits or techniques?"
)

// BuildSystemPrompt assembles the full system prompt from the admin-configured
// settings, the knowledge documents and what is known about the visitor.
// Missing fields silently substitute defaults; this is pure string formatting.
func BuildSystemPrompt(settings *store.AssistantSettings, documents []store.KnowledgeDocument, prefs *store.UserPreferences) string {
	instructions := defaultInstructions
	businessContext := defaultContext
	language := defaultLanguage
	personality := defaultPersonality
	avoidTopics := ""
	if settings != nil {
		if settings.Instructions != "" {
			instructions = settings.Instructions
		}
		if settings.Context != "" {
			businessContext = settings.Context
		}
		if settings.Language != "" {
			language = settings.Language
		}
		if settings.Personality != "" {
			personality = settings.Personality
		}
		avoidTopics = settings.AvoidTopics
	}

	var b strings.Builder

	b.WriteString("# Role and objective\n")
	b.WriteString(instructions)
	b.WriteString("\n\n")

	b.WriteString("# Knowledge rules\n")
	b.WriteString("Answer only from the reference material below and the business context. ")
	b.WriteString("If the answer is not covered there, reply exactly with: \"")
	b.WriteString(FallbackAnswer)
	b.WriteString("\". Never invent products, prices or fishing regulations.\n\n")

	b.WriteString("# Business context\n")
	b.WriteString(businessContext)
	b.WriteString("\n\n")

	if prefs != nil && (prefs.Location != "" || len(prefs.Species) > 0 || len(prefs.Methods) > 0) {
		b.WriteString("# About this visitor\n")
		if prefs.Location != "" {
			fmt.Fprintf(&b, "They fish around %s.\n", prefs.Location)
		}
		if len(prefs.Species) > 0 {
			fmt.Fprintf(&b, "Target species: %s.\n", strings.Join(prefs.Species, ", "))
		}
		if len(prefs.Methods) > 0 {
			fmt.Fprintf(&b, "Preferred methods: %s.\n", strings.Join(prefs.Methods, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("# Communication style\n")
	fmt.Fprintf(&b, "Respond in %s. Your personality: %s.\n", language, personality)
	if avoidTopics != "" {
		fmt.Fprintf(&b, "Avoid these topics entirely: %s.\n", avoidTopics)
	}
	b.WriteString("\n")

	if len(documents) > 0 {
		b.WriteString("# Available reference documents\n")
		for _, doc := range documents {
			fmt.Fprintf(&b, "- %s\n", doc.Title)
		}
		b.WriteString("\n# Source of truth\n")
		b.WriteString("The following reference material is your source of truth:\n\n")
		for _, doc := range documents {
			fmt.Fprintf(&b, "## %s\n", doc.Title)
			if doc.Description != "" {
				b.WriteString(doc.Description)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	} else {
		b.WriteString("# Available reference documents\n")
		b.WriteString("No reference documents have been uploaded yet. Rely on the business context only.\n")
	}

	return strings.TrimSpace(b.String())
}

// BuildProgressSummary produces a short continuity nudge from the prior
// messages: the most recent assistant reply plus how far along the
// conversation is. Returns "" for a fresh conversation.
func BuildProgressSummary(messages []store.Message) string {
	if len(messages) == 0 {
		return ""
	}

	lastAssistant := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == store.RoleAssistant {
			lastAssistant = messages[i].Content
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "This conversation has %d prior messages.", len(messages))
	if lastAssistant != "" {
		fmt.Fprintf(&b, " Your previous reply was: %q. Stay consistent with it and do not repeat yourself.", lastAssistant)
	}
	return b.String()
}
