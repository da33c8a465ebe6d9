package main

import (
	"fmt"
	"io"

	"rstransfer/engine"
)

// subscribeConsolePrinter prints the engine's lifecycle events to out.
// It's the "operator console" view a GUI would otherwise render.
func subscribeConsolePrinter(c *engine.Controller, out io.Writer) {
	bus := c.EventBus()

	bus.On(engine.EventConnected, func(any) {
		fmt.Fprintln(out, "[connected]")
	})
	bus.On(engine.EventDisconnected, func(any) {
		fmt.Fprintln(out, "[disconnected]")
	})
	bus.On(engine.EventConnectionError, func(payload any) {
		ev := payload.(engine.ConnectionErrorEvent)
		fmt.Fprintf(out, "[connection error] %v\n", ev.Err)
	})
	bus.On(engine.EventTransferRequested, func(payload any) {
		ev := payload.(engine.TransferEvent)
		fmt.Fprintf(out, "[transfer requested] %s\n", ev.TransferID)
	})
	bus.On(engine.EventTransferApproved, func(payload any) {
		ev := payload.(engine.TransferEvent)
		fmt.Fprintf(out, "[transfer approved] %s\n", ev.TransferID)
	})
	bus.On(engine.EventTransferRejected, func(payload any) {
		ev := payload.(engine.TransferRejectedEvent)
		fmt.Fprintf(out, "[transfer rejected] %s: %s\n", ev.TransferID, ev.Reason)
	})
	bus.On(engine.EventTransferStarted, func(payload any) {
		ev := payload.(engine.TransferEvent)
		fmt.Fprintf(out, "[transfer started] %s\n", ev.TransferID)
	})
	bus.On(engine.EventTransferProgress, func(payload any) {
		ev := payload.(engine.ProgressEvent)
		fmt.Fprintf(out, "[progress] %s: %.1f%% (%d/%d bytes)\n",
			ev.TransferID, ev.Snapshot.Percentage, ev.Snapshot.BytesTransferred, ev.Snapshot.TotalBytes)
	})
	bus.On(engine.EventTransferCompleted, func(payload any) {
		ev := payload.(engine.TransferCompletedEvent)
		fmt.Fprintf(out, "[transfer completed] %s -> %s\n", ev.TransferID, ev.Path)
	})
	bus.On(engine.EventTransferFailed, func(payload any) {
		ev := payload.(engine.TransferFailedEvent)
		fmt.Fprintf(out, "[transfer failed] %s: %v\n", ev.TransferID, ev.Err)
	})
	bus.On(engine.EventTransferCancelled, func(payload any) {
		ev := payload.(engine.TransferEvent)
		fmt.Fprintf(out, "[transfer cancelled] %s\n", ev.TransferID)
	})
	bus.On(engine.EventSecurityWarning, func(payload any) {
		ev := payload.(engine.SecurityWarningEvent)
		fmt.Fprintf(out, "[security warning] %s (%s): %s\n", ev.TransferID, ev.Filename, ev.Reason)
	})
	bus.On(engine.EventFileValidationFailed, func(payload any) {
		ev := payload.(engine.FileValidationFailedEvent)
		fmt.Fprintf(out, "[validation failed] %s: %s\n", ev.Path, ev.Reason)
	})
}
