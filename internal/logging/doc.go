// Package logger provides structured logging for whanau CLI commands.
//
// The logger supports multiple verbosity levels controlled by command-line
// flags. Output is formatted with semantic prefixes and colors.
//
// # Verbosity Levels
//
//   - --verbose: Shows info and warning messages
//   - --debug: Shows all messages including debug details
//
// Without flags, only critical warnings and errors are shown.
//
// # Log Methods
//
//	Logger.Infof()          // Shown with --verbose or --debug
//	Logger.Debugf()         // Shown only with --debug
//	Logger.Warnf()          // Shown with --verbose or --debug
//	Logger.WarnfAlways()    // Always shown (critical warnings)
//	Logger.WarnfUser()      // User-facing warnings (not debug info)
//	Logger.Errorf()         // Shown with --debug
//	Logger.ErrorfAndReturn() // Logs and returns an error for RunE
//	Logger.Fatalf()         // Always shown, then exits
//
// Key material (private keys, family keys, packaged invite codes) must
// never be passed to any of these methods.
package logger
