package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zebreus/rudelblinken-filestore/metadata"
	"github.com/zebreus/rudelblinken-filestore/store"
	"github.com/zebreus/rudelblinken-filestore/upload"
)

// newUploadCmd drives the real chunked wire protocol (C7) against a local
// file, the same UPLOAD_REQUEST/DATA sequence a BLE central would send, so
// the CLI exercises the exact path a device link does instead of taking a
// shortcut through BeginWrite/Write/Commit directly.
func newUploadCmd() *cobra.Command {
	var name string
	var chunkSize int

	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a local file into the store over the chunked wire protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = args[0]
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			size := chunkSize
			if size <= 0 {
				size = cfg.DefaultChunk
			}

			s, closeDev, err := openStore()
			if err != nil {
				return err
			}
			defer closeDev()

			req, err := buildUploadRequest(s, name, content, uint16(size))
			if err != nil {
				return err
			}

			maxFrame := cfg.MaxFramePayload
			if maxFrame <= 0 {
				maxFrame = upload.DefaultMaxFramePayload
			}
			ep := upload.NewEndpoint(s).WithMaxFramePayload(maxFrame)
			if err := ep.WriteUploadRequest(req.Encode()); err != nil {
				return fmt.Errorf("upload_request: %w", err)
			}

			chunkCount := req.ChunkCount()
			for i := 0; i < chunkCount; i++ {
				start := i * size
				end := start + size
				if end > len(content) {
					end = len(content)
				}
				frame := upload.EncodeDataFrame(uint16(i), content[start:end])
				if err := ep.WriteData(frame); err != nil {
					return fmt.Errorf("chunk %d: %w", i, err)
				}
			}

			fmt.Printf("uploaded %s as %s (%d bytes, %d chunks of %d)\n", args[0], name, len(content), chunkCount, size)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name to store the file under (default: source path)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "bytes per DATA frame (0: use config default_chunk_size)")
	return cmd
}

// buildUploadRequest computes the per-chunk CRC-8 table for content and
// resolves it into the request per §6: inline for up to 32 chunks, or
// uploaded as a separate content-addressed file and referenced by hash
// otherwise.
func buildUploadRequest(s *store.Store, name string, content []byte, chunkSize uint16) (*upload.UploadRequest, error) {
	hash := metadata.ComputeHash(content)
	req := &upload.UploadRequest{
		FileSize:  uint32(len(content)),
		Hash:      hash,
		FileName:  name,
		ChunkSize: chunkSize,
	}
	chunkCount := req.ChunkCount()

	table := make([]byte, chunkCount)
	for i := 0; i < chunkCount; i++ {
		start := i * int(chunkSize)
		end := start + int(chunkSize)
		if end > len(content) {
			end = len(content)
		}
		table[i] = upload.ChunkChecksum(content[start:end])
	}

	if !req.IsIndirectChecksums() {
		copy(req.Checksums[:], table)
		return req, nil
	}

	tableHash := metadata.ComputeHash(table)
	tableName := fmt.Sprintf("ck%x", tableHash[:6])
	_, w, err := s.BeginWrite(tableName, uint32(len(table)), tableHash)
	if err != nil {
		return nil, fmt.Errorf("checksum table: %w", err)
	}
	if _, err := w.Write(table); err != nil {
		w.Close()
		return nil, fmt.Errorf("checksum table: %w", err)
	}
	if _, err := w.Commit(); err != nil {
		return nil, fmt.Errorf("checksum table: %w", err)
	}
	req.Checksums = tableHash
	return req, nil
}
