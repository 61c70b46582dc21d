// Package core contains the enrollment refresh domain: records, feed entries,
// the error taxonomy, configuration and the contracts every adapter package
// implements. Core must not depend on the file, transport or callback
// adapters.
package core
