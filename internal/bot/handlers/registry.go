package handlers

import (
	tgbot "github.com/go-telegram/bot"
)

// RegisteredHandler represents a command handler with its pattern and middleware.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
}

// RegisterAllCommands initializes and returns a map of all available bot commands.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	handlers := make(map[string]RegisteredHandler)
	allow := []tgbot.Middleware{AllowList(deps)}

	command := func(name string, h tgbot.HandlerFunc) {
		handlers["/"+name] = RegisteredHandler{
			HandlerType: tgbot.HandlerTypeMessageText,
			Pattern:     name,
			Handler:     h,
			MatchType:   tgbot.MatchTypeCommandStartOnly,
			Middleware:  allow,
		}
	}
	command("start", NewStartHandler(deps))
	command("help", NewHelpHandler(deps))
	command("reminders", NewRemindersHandler(deps))
	command("dismiss", NewDismissHandler(deps))

	return handlers
}

// NewDefaultHandler returns the handler for every message that is not a command,
// guarded by the allow-list.
func NewDefaultHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return AllowList(deps)(NewMessageHandler(deps))
}
