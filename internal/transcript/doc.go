// Package transcript exports saved conversations for reading outside the app.
package transcript
