package server

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/tomerIQ713/File-Transfer/internal/model"
	"github.com/tomerIQ713/File-Transfer/internal/protocol"
)

// downloadStartDelay gives the client time to process the
// download_request_response before the download_start header arrives.
const downloadStartDelay = 1 * time.Second

// uploadTransfer builds the server side of a file upload: read the
// upload_start header, read the declared ciphertext bytes, decrypt,
// persist, enqueue the metadata write, confirm.
func (d *Dispatcher) uploadTransfer(sess *Session, username, fileName string, sizeBytes int64, isPublic bool) Transfer {
	return func(ctx context.Context) error {
		header, err := protocol.ReadMessage(sess.Conn, sess.Cipher)
		if err != nil {
			if _, soft := protocol.AsInvalidPackage(err); soft {
				return protocol.WriteMessage(sess.Conn, sess.Cipher, protocol.Invalid("Could not convert data to package"))
			}
			return fmt.Errorf("reading upload header: %w", err)
		}
		encryptedSize, ok := header.Int64(protocol.FieldEncryptedSize)
		if header.Type() != protocol.TypeUploadStart || !ok {
			return protocol.WriteMessage(sess.Conn, sess.Cipher, protocol.Invalid("Invalid header package"))
		}

		uploadTime := d.clock.Now().Unix()

		maxEncrypted := d.maxUploadBytes + int64(sess.Cipher.Overhead())
		encrypted, err := protocol.ReadRawPayload(sess.Conn, encryptedSize, maxEncrypted)
		if err != nil {
			return fmt.Errorf("reading upload payload: %w", err)
		}

		plain, err := sess.Cipher.Open(encrypted)
		if err != nil {
			return protocol.WriteMessage(sess.Conn, sess.Cipher,
				protocol.Response(protocol.TypeUploadFinal, false, "Failed to decrypt file"))
		}

		if err := d.blobs.Put(ctx, username, fileName, bytes.NewReader(plain), int64(len(plain))); err != nil {
			d.logger.Error("storing upload failed", "user", username, "file", fileName, "error", err)
			return protocol.WriteMessage(sess.Conn, sess.Cipher,
				protocol.Response(protocol.TypeUploadFinal, false, "Failed to store file"))
		}

		file := model.File{
			Name:          fileName,
			Uploader:      username,
			SizeBytes:     sizeBytes,
			UploadTime:    uploadTime,
			IsPublic:      isPublic,
			DownloadCount: 0,
		}
		d.writer.Enqueue(AddFileJob(file))
		d.logger.Info("upload complete", "user", username, "file", fileName, "bytes", len(plain))

		return protocol.WriteMessage(sess.Conn, sess.Cipher,
			protocol.Response(protocol.TypeUploadFinal, true, file))
	}
}

// downloadTransfer builds the server side of a file download: after a
// short delay, send the download_start header and the sealed bytes,
// then wait for the acknowledgment. The download counter is bumped only
// on received:true; a lost or garbled ack skips the count on purpose.
func (d *Dispatcher) downloadTransfer(sess *Session, file *model.File) Transfer {
	return func(ctx context.Context) error {
		select {
		case <-time.After(downloadStartDelay):
		case <-ctx.Done():
			return ctx.Err()
		}

		var buf bytes.Buffer
		if err := d.blobs.Get(ctx, file.Uploader, file.Name, &buf); err != nil {
			d.logger.Error("reading blob failed", "user", file.Uploader, "file", file.Name, "error", err)
			return protocol.WriteMessage(sess.Conn, sess.Cipher, protocol.Invalid("Failed to read file"))
		}

		encrypted, err := sess.Cipher.Seal(buf.Bytes())
		if err != nil {
			return fmt.Errorf("sealing download: %w", err)
		}

		header := protocol.Message{
			protocol.FieldType:          protocol.TypeDownloadStart,
			protocol.FieldEncryptedSize: len(encrypted),
		}
		if err := protocol.WriteMessage(sess.Conn, sess.Cipher, header); err != nil {
			return fmt.Errorf("sending download header: %w", err)
		}
		if err := protocol.WriteRawPayload(sess.Conn, encrypted); err != nil {
			return fmt.Errorf("sending download payload: %w", err)
		}

		ack, err := protocol.ReadMessage(sess.Conn, sess.Cipher)
		if err != nil {
			if _, soft := protocol.AsInvalidPackage(err); soft {
				return nil
			}
			return fmt.Errorf("reading download ack: %w", err)
		}
		if received, _ := ack.Bool(protocol.FieldReceived); received {
			d.writer.Enqueue(AddDownloadsJob(file.Name, file.Uploader, 1))
		}
		return nil
	}
}
