// Package process provides subprocess chain management.
//
// Chain runs one or more subprocesses with stdout of each stage piped
// into stdin of the next, which is how a downloader feeds an encoder:
//   - Inter-stage pipes are kernel pipes, the parent closes its copies
//     so EOF propagates when an upstream stage exits
//   - Graceful shutdown with SIGINT to each process group and a
//     configurable timeout
//   - Force kill with SIGKILL if graceful shutdown times out
//   - Output streaming with pluggable log parsing per stage
//   - Per-stage exit codes so callers can tell which stage failed
//
// Example usage:
//
//	chain := process.NewChain(logger, []process.Stage{
//	    {Name: "downloader", Path: "yt-dlp", Args: dlArgs},
//	    {Name: "encoder", Path: "ffmpeg", Args: encArgs},
//	})
//	if err := chain.Start(); err != nil {
//	    return err
//	}
//	results := chain.Wait()
package process
