// Package encfs implements the content path of a transparent, per-file
// encrypting overlay filesystem.
//
// # Overview
//
// An overlay mirrors a backing directory tree. Files whose backing copy
// carries the encryption marker (the extended attribute
// "user.encfs.encrypted" set to "true") hold ciphertext at rest: reads
// decrypt the whole file into a working buffer and serve the requested
// range from it, writes decrypt, overlay the new bytes and re-encrypt the
// whole file. Files without the marker are read and written unchanged.
//
// The package provides the pieces the FUSE adapter in package fusefs is
// built from:
//
//   - Resolver maps mount-relative paths onto the backing root.
//   - MarkerStore answers whether a backing file is encrypted.
//   - Transform encrypts or decrypts a whole stream with a passphrase.
//   - Engine combines them into ReadAt, WriteAt, Create, Truncate and Size.
//
// # Basic Usage
//
//	engine, err := encfs.New(&encfs.Config{
//	    Root:       "/srv/vault",
//	    Passphrase: []byte("correct horse battery staple"),
//	})
//	if err != nil {
//	    return err
//	}
//
//	real, err := engine.Resolve("/notes.txt")
//	if err != nil {
//	    return err
//	}
//	if err := engine.Create(real, 0600); err != nil {
//	    return err
//	}
//	engine.WriteAt(real, []byte("hello"), 0)
//
// # Cipher Suites
//
//   - aes-siv (default): AES-SIV (RFC 5297). Deterministic: the same
//     passphrase and plaintext always produce the same ciphertext.
//   - aes-256-gcm and chacha20-poly1305: randomized salt and nonce per
//     encryption. Ciphertext differs on every write.
//
// Keys are derived from the passphrase with Argon2id (default) or PBKDF2 and
// cached per salt, so repeated whole-file transforms do not pay the key
// derivation cost again.
//
// # File Format
//
// Encrypted content starts with a header that is authenticated as
// associated data:
//   - Magic bytes (4 bytes): "ENCR" (0x454E4352)
//   - Version (1 byte)
//   - Cipher suite (1 byte)
//   - Salt size (2 bytes) and salt
//   - Nonce size (2 bytes) and nonce (empty for aes-siv)
//
// The ciphertext follows. An empty backing file is a valid encrypted file
// with empty plaintext; this is the state right after Create.
//
// # Consistency
//
// Every write rewrites the whole file. Content operations on the same backing
// path are serialized inside one Engine, so concurrent writers in this
// process never lose each other's updates. Processes editing the backing tree
// directly are not coordinated.
package encfs
