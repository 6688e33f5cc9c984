// Package tools provides the built-in agent tools: file, bash, search, web
// and code. Each implements agentloop.Tool; Default returns the full set
// configured from Options.
//
// Tools that take a path expect the agentloop dispatcher to have checked it
// against the sandbox already. bash and code run child processes in their own
// process group so a timeout kills everything they started.
package tools
