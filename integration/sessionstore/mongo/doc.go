// Package mongo implements session.Store on MongoDB.
//
// Sessions are documents {_id: sessionID, user_id, connected} in the
// gateway_sessions collection. Save is a ReplaceOne with upsert, so repeated
// saves of the same session never create a second document.
package mongo
