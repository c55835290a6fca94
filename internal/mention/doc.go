// Package mention classifies @mentions in agent replies.
//
// A reply that mentions another agent hands conversational control to that
// agent; a reply that mentions @user (any case) or mentions nobody hands it
// back to the human. Only the first mention counts:
//
//	mention.Scan("@dataAgent please analyze this") // TargetsAgent("dataAgent")
//	mention.Scan("Thanks, @user glad to help")    // TargetsUser
//	mention.Scan("no mention here")               // None
package mention
