// Package cloudagent is a client for the hosted conversational agent service
// that joins RTC rooms, listens to the user and speaks the model's answers.
//
// Every call is a POST to the service base URL with the action and an md5
// signature in the query string. The agent definition is registered lazily on
// the first instance creation and reused for the life of the process.
package cloudagent
