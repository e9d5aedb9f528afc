// Package sessions provides per-key FIFO serialization of async work and the
// session key helpers that name those keys.
//
// Session keys:
//
//	Primary turn:   {userID}
//	Sub-agent task: agent:{agentID}
package sessions

import "strings"

const agentKeyPrefix = "agent:"

// UserKey returns the session key serializing a user's primary-agent turns.
func UserKey(userID string) string { return userID }

// AgentKey returns the session key serializing one sub-agent's tasks.
func AgentKey(agentID string) string { return agentKeyPrefix + agentID }

// IsAgentKey reports whether a session key names a sub-agent queue.
func IsAgentKey(key string) bool { return strings.HasPrefix(key, agentKeyPrefix) }

// AgentIDFromKey extracts the agent id from an agent session key.
// Returns "" for non-agent keys.
func AgentIDFromKey(key string) string {
	if !IsAgentKey(key) {
		return ""
	}
	return key[len(agentKeyPrefix):]
}
