package core

import (
	"errors"
	"sync"
)

var (
	ErrUnknownCommand        = errors.New("unknown command")
	ErrResponseNotRegistered = errors.New("response not registered")
	ErrResponseHasNoHandler  = errors.New("response messages cannot be dispatched")
)

// CommandHandler decodes its own arguments from data, advancing it
type CommandHandler func(data *[]byte) error

// Command is one entry of the message dictionary. Responses (MCU to
// host) are registered with a nil Handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string // e.g. "ms=%u"
	Handler CommandHandler
}

// Spec returns "name format", the key used in the dictionary
func (c *Command) Spec() string {
	if c.Format == "" {
		return c.Name
	}
	return c.Name + " " + c.Format
}

// CommandRegistry assigns IDs to messages in registration order
type CommandRegistry struct {
	mu       sync.RWMutex
	commands []*Command
	byName   map[string]uint16
}

var globalRegistry = NewCommandRegistry()

// NewCommandRegistry creates an empty registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		byName: make(map[string]uint16),
	}
}

// RegisterCommand adds a host-to-MCU command to the global registry
func RegisterCommand(name string, format string, handler CommandHandler) uint16 {
	return globalRegistry.Register(name, format, handler)
}

// RegisterResponse adds an MCU-to-host message to the global registry
func RegisterResponse(name string, format string) uint16 {
	return globalRegistry.Register(name, format, nil)
}

// Register adds a message and returns its ID. Registering a name twice
// returns the first ID and keeps the first definition.
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byName[name]; ok {
		return id
	}

	id := uint16(len(r.commands))
	r.commands = append(r.commands, &Command{
		ID:      id,
		Name:    name,
		Format:  format,
		Handler: handler,
	})
	r.byName[name] = id
	return id
}

// GetCommand retrieves a message by ID
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.commands) {
		return nil, false
	}
	return r.commands[id], true
}

// GetCommandByName retrieves a message by name
func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

// Count returns the number of registered messages
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch calls the handler registered for cmdID
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok {
		return ErrUnknownCommand
	}
	if cmd.Handler == nil {
		return ErrResponseHasNoHandler
	}
	return cmd.Handler(data)
}

// GetDictionary returns one "name format" line per message, in ID order
func (r *CommandRegistry) GetDictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dict := ""
	for _, cmd := range r.commands {
		dict += cmd.Spec() + "\n"
	}
	return dict
}

// GetCommandsAndResponses splits the registry for the JSON dictionary:
// messages with a handler are commands, the rest are responses.
func (r *CommandRegistry) GetCommandsAndResponses() (commands []*Command, responses []*Command) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cmd := range r.commands {
		if cmd.Handler != nil {
			commands = append(commands, cmd)
		} else {
			responses = append(responses, cmd)
		}
	}
	return commands, responses
}

// DispatchCommand dispatches through the global registry
func DispatchCommand(cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(cmdID, data)
}

// GetGlobalRegistry returns the global command registry
func GetGlobalRegistry() *CommandRegistry {
	return globalRegistry
}
