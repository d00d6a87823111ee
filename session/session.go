package session

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/m4xw311/docseek/errors"
)

// Role is the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !Role(s).Valid() {
		return errors.New("unknown message role %q", s)
	}
	*r = Role(s)
	return nil
}

// Message is one record of the conversation. Records are never changed after
// they are appended.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the ordered message log of a session, backed by a JSON file
// holding an array of messages. Every Save rewrites the whole file.
type Conversation struct {
	Name     string
	messages []Message
	path     string
	dirty    bool
}

// New creates an empty conversation that persists to path.
func New(name, path string) *Conversation {
	return &Conversation{Name: name, messages: []Message{}, path: path}
}

// Load reads the conversation stored at path. A missing file yields an empty
// conversation.
func Load(name, path string) (*Conversation, error) {
	c := New(name, path)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read history file %s", path)
	}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.messages); err != nil {
		return nil, errors.Wrapf(err, "could not parse history file %s", path)
	}
	if c.messages == nil {
		c.messages = []Message{}
	}
	return c, nil
}

// Path returns the history file location.
func (c *Conversation) Path() string { return c.path }

// Append adds msg to the end of the log and marks the conversation unsaved.
func (c *Conversation) Append(msg Message) error {
	if !msg.Role.Valid() {
		return errors.New("unknown message role %q", msg.Role)
	}
	c.messages = append(c.messages, msg)
	c.dirty = true
	return nil
}

// Messages returns a copy of the log.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of records.
func (c *Conversation) Len() int { return len(c.messages) }

// Dirty reports whether there are appended records not yet saved.
func (c *Conversation) Dirty() bool { return c.dirty }

// Save writes the full log to disk.
func (c *Conversation) Save() error {
	if err := writeJSON(c.path, c.messages); err != nil {
		return errors.Wrapf(err, "failed to save conversation %s", c.Name)
	}
	c.dirty = false
	return nil
}

// SessionPath returns the history file for a named session under dataDir.
func SessionPath(dataDir, name string) string {
	return filepath.Join(dataDir, "sessions", name+".json")
}

// writeJSON replaces path atomically with the indented encoding of v.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "could not create directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
