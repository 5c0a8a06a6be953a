// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements Server-Sent Events framing for the UI message
// stream.
//
// The completion endpoint writes one uimsg.Chunk per SSE event and flushes
// after every event, so the caller sees output as it is produced. The chat
// client decodes the same framing back into chunks. The low-level SSEReader
// is shared with the provider clients, which speak SSE as well.
//
// # Key Types
//
//   - Writer: Encodes chunks onto an http.ResponseWriter
//   - Reader: Decodes chunks from a response body
//   - SSEReader: Parses raw SSE events (event type plus data)
//
// # Usage
//
//	w, err := stream.NewWriter(rw)
//	if err != nil {
//	    return err
//	}
//	w.Write(uimsg.Chunk{Type: uimsg.ChunkStart, MessageID: id})
//	w.Close()
package stream
