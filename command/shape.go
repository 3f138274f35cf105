package command

// HasSessionID and HasMAC report whether a command or response frame for
// the given code carries a session id / MAC trailer. These rules are a
// pure function of the code (spec.md §4.1's table) and are consumed by
// package wire when encoding and decoding frames.

// CommandHasSessionID reports whether an outbound command frame of this
// code carries a session id.
func CommandHasSessionID(c Code) bool {
	return c == AuthenticateSession || c == SessionMessage
}

// CommandHasMAC reports whether an outbound command frame of this code
// carries a C-MAC trailer.
func CommandHasMAC(c Code) bool {
	return c == AuthenticateSession || c == SessionMessage
}

// ResponseHasSessionID reports whether a response frame with the given
// response code carries a session id. Only create-session and
// session-message success responses do; error responses and all other
// successes do not.
func ResponseHasSessionID(rc ResponseCode) bool {
	cmd, ok := rc.Command()
	if !ok {
		return false
	}
	return cmd == CreateSession || cmd == SessionMessage
}

// ResponseHasMAC reports whether a response frame with the given response
// code carries an R-MAC trailer. Only a session-message success response
// does.
func ResponseHasMAC(rc ResponseCode) bool {
	cmd, ok := rc.Command()
	if !ok {
		return false
	}
	return cmd == SessionMessage
}
