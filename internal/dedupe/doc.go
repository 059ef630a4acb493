// Package dedupe suppresses repeated command output reports.
//
// An agent that fails to read the response to POST /command-output retries
// the post. Keys built with OutputKey (hostname, command, agent timestamp,
// output digest) are remembered for five minutes so the retry is
// acknowledged but not recorded twice. Reports without a timestamp are
// never deduplicated.
package dedupe
