// Package terminal implements the command-line interface (CLI) mode for DocSeek.
//
// The terminal reads one line of input per turn, hands it to the orchestrator
// and renders the turn's events as they arrive: assistant text is printed as
// it streams, tool and command output is printed as a block, and errors are
// printed with their kind. Colors come from the session theme, which /theme
// changes while the session runs.
//
// # Usage
//
//	term := terminal.New(orchestrator, terminal.Options{
//	    In:        os.Stdin,
//	    Out:       os.Stdout,
//	    Interrupt: interrupts,
//	})
//	err = term.Run(ctx, initialPrompt)
//
// # Interrupts
//
// A value on the Interrupt channel cancels the running turn. The partial
// reply stays in the history. An interrupt while the prompt is waiting for
// input ends the session, as do end of input and /exit.
package terminal
