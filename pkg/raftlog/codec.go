package raftlog

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/cuemby/raftkv/pkg/types"
)

// encodeEntry and decodeEntry serialize the variant payload of a LogEntry
// to and from the bytes stored in a segment's data file. The concrete wire
// representation of individual fields is deliberately unspecified by the
// protocol this package implements (only structure and invariants are); we
// use gob here purely as the on-disk payload codec, not as a network wire
// format — no field layout is part of this package's public contract.
func encodeEntry(e types.LogEntry) []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	var err error
	switch e.Type {
	case types.EntryInitialize:
		// no payload
	case types.EntryConfiguration:
		err = enc.Encode(e.Configuration)
	case types.EntryOpenSession:
		err = enc.Encode(e.OpenSession)
	case types.EntryKeepAlive:
		err = enc.Encode(e.KeepAlive)
	case types.EntryCloseSession:
		err = enc.Encode(e.CloseSession)
	case types.EntryCommand:
		err = enc.Encode(e.Command)
	case types.EntryQuery:
		err = enc.Encode(e.Query)
	case types.EntryMetadata:
		err = enc.Encode(e.Metadata)
	default:
		panic(fmt.Sprintf("raftlog: unknown entry type %d", e.Type))
	}
	if err != nil {
		// gob-encoding an in-memory struct graph we built ourselves cannot
		// fail short of a programmer error (unexported fields, channels).
		panic(fmt.Sprintf("raftlog: encode entry: %v", err))
	}
	return buf.Bytes()
}

func decodeEntry(index types.Index, term types.Term, typ types.EntryType, payload []byte) (types.LogEntry, error) {
	e := types.LogEntry{Index: index, Term: term, Type: typ}
	if typ == types.EntryInitialize {
		return e, nil
	}
	dec := gob.NewDecoder(bytes.NewReader(payload))
	var err error
	switch typ {
	case types.EntryConfiguration:
		e.Configuration = &types.ConfigurationEntry{}
		err = dec.Decode(e.Configuration)
	case types.EntryOpenSession:
		e.OpenSession = &types.OpenSessionEntry{}
		err = dec.Decode(e.OpenSession)
	case types.EntryKeepAlive:
		e.KeepAlive = &types.KeepAliveEntry{}
		err = dec.Decode(e.KeepAlive)
	case types.EntryCloseSession:
		e.CloseSession = &types.CloseSessionEntry{}
		err = dec.Decode(e.CloseSession)
	case types.EntryCommand:
		e.Command = &types.CommandEntry{}
		err = dec.Decode(e.Command)
	case types.EntryQuery:
		e.Query = &types.QueryEntry{}
		err = dec.Decode(e.Query)
	case types.EntryMetadata:
		e.Metadata = &types.MetadataEntry{}
		err = dec.Decode(e.Metadata)
	default:
		return types.LogEntry{}, fmt.Errorf("raftlog: unknown entry type %d at index %d", typ, index)
	}
	if err != nil {
		return types.LogEntry{}, fmt.Errorf("raftlog: decode entry at index %d: %w", index, err)
	}
	return e, nil
}
