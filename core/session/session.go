package session

// Session is the durable record of a logical client identity. It survives
// reconnects: a client that presents ID on its next handshake resumes as UserID.
type Session struct {
	ID        string `json:"sessionID" bson:"_id"`
	UserID    string `json:"userID" bson:"user_id"`
	Connected bool   `json:"connected" bson:"connected"`
}

// Validate reports whether the session can be persisted.
func (s Session) Validate() error {
	if s.ID == "" || s.UserID == "" {
		return ErrInvalidSession
	}
	return nil
}

// WithConnected returns a copy of s with the liveness flag set.
func (s Session) WithConnected(connected bool) Session {
	s.Connected = connected
	return s
}
