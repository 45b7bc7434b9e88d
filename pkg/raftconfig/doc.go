/*
Package raftconfig defines Config, the YAML-loadable set of timing,
segment-sizing and storage-placement knobs a raft server is constructed
from, and Validate, which enforces the cross-field constraints those
knobs require in practice (heartbeatInterval < electionTimeout,
sessionTimeout > electionTimeout).
*/
package raftconfig
