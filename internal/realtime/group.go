// ABOUTME: Structured group keys for realtime fan-out
// ABOUTME: Combines a namespace tag with a name so unrelated groups can never collide

package realtime

// Namespace tags a family of groups.
type Namespace string

// NamespaceConversation holds one group per conversation name.
const NamespaceConversation Namespace = "conversation"

// GroupKey identifies a set of live connections. It is a comparable value
// type and is used directly as a map key.
type GroupKey struct {
	Namespace Namespace `json:"namespace"`
	Name      string    `json:"name"`
}

// ConversationGroup returns the group key for a conversation name.
func ConversationGroup(name string) GroupKey {
	return GroupKey{Namespace: NamespaceConversation, Name: name}
}

// String renders the key as "namespace-name" for logs and metrics.
func (k GroupKey) String() string {
	return string(k.Namespace) + "-" + k.Name
}

// IsZero reports whether the key is unset.
func (k GroupKey) IsZero() bool {
	return k.Namespace == "" && k.Name == ""
}
