// Package utils holds small helpers shared by the CLI and workflows.
//
// Shared folder discovery (FindSharedRoot) lets a synced .whanau folder act
// as the directory without any configuration. Device naming and email
// normalization keep public key records consistent across devices.
//
// Terminal helpers read piped input (ReadStdin, ReadStdinLines), prompt for
// passphrases without echo, and write family keys straight to the terminal
// so they bypass redirected stdout.
package utils
