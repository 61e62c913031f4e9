// Command agentgate runs the Anthropic-compatible gateway in front of a
// stateful agent CLI backend.
//
// Usage:
//
//	agentgate serve                       # start the gateway
//	agentgate serve --config config.yaml  # with a config file
//	agentgate version                     # show version information
//	agentgate health                      # probe a running gateway
package main
