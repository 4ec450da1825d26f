package session

import "sort"

// IsOnline reports whether username holds at least one live connection.
func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[username]) > 0
}

// OnlineUsernames returns a sorted snapshot of every online username.
func (r *Registry) OnlineUsernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for username := range r.byUser {
		users = append(users, username)
	}
	sort.Strings(users)
	return users
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
