// Package recipients registers users who talk to the bot and reports how
// many have joined over time.
package recipients
