// Package secrets redacts credentials and payment data from text before it
// leaves the process in a prompt.
//
// Profile records are free text typed by customers; they sometimes paste
// API keys, card numbers or connection strings into them. The context block
// passes through a Scrubber before it reaches any provider.
package secrets
