/*
Package session implements the per-conversation exclusive section.

It serializes state reads and commits for one conversation within a process
and, with a distributed locker, across replicas. Tool calls never run inside
the section; compare-and-swap on the state version catches writers that
interleave between a read and its commit.
*/
package session
