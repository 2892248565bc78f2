// Package wire implements the coordinator<->worker binary protocol: a
// lockstep, length-prefixed, status-tagged exchange over a single
// long-lived TCP connection. All multi-byte integers are big-endian;
// strings are raw UTF-8 bytes, never null-terminated.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/chordtoll/bootstrapper/internal/recipe"
	"gopkg.in/yaml.v3"
)

// Status is one byte tag identifying what either side of the connection is
// ready to send or receive next.
type Status byte

const (
	ReadyForWork    Status = 0
	ReadyForSource  Status = 1
	ReadyForOverlay Status = 2
	HaveSource      Status = 3
	NeedSource      Status = 4
	ReadyForDep     Status = 5
	HaveDep         Status = 6
	NeedDep         Status = 7
	HaveOverlay     Status = 8
	NeedOverlay     Status = 9
	ReadyForEnvs    Status = 10
	BuildComplete   Status = 11
)

func (s Status) String() string {
	switch s {
	case ReadyForWork:
		return "ReadyForWork"
	case ReadyForSource:
		return "ReadyForSource"
	case ReadyForOverlay:
		return "ReadyForOverlay"
	case HaveSource:
		return "HaveSource"
	case NeedSource:
		return "NeedSource"
	case ReadyForDep:
		return "ReadyForDep"
	case HaveDep:
		return "HaveDep"
	case NeedDep:
		return "NeedDep"
	case HaveOverlay:
		return "HaveOverlay"
	case NeedOverlay:
		return "NeedOverlay"
	case ReadyForEnvs:
		return "ReadyForEnvs"
	case BuildComplete:
		return "BuildComplete"
	default:
		return fmt.Sprintf("Status(%d)", byte(s))
	}
}

// Conn wraps a byte stream (normally a net.TCPConn) with the protocol's
// primitive reads and writes. Any I/O error or protocol violation (an
// unexpected status byte) is fatal to the connection: callers propagate it
// up and the caller tears the connection down.
type Conn struct {
	rw io.ReadWriter
}

func New(rw io.ReadWriter) *Conn { return &Conn{rw: rw} }

func (c *Conn) writeByte(b byte) error {
	_, err := c.rw.Write([]byte{b})
	return err
}

func (c *Conn) readByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(c.rw, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Conn) WriteStatus(s Status) error { return c.writeByte(byte(s)) }

func (c *Conn) ReadStatus() (Status, error) {
	b, err := c.readByte()
	return Status(b), err
}

// ExpectStatus reads one status byte and fails if it doesn't match want,
// mirroring the original protocol's assert_eq! lockstep checks.
func (c *Conn) ExpectStatus(want Status) error {
	got, err := c.ReadStatus()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("wire: protocol violation: expected %s, got %s", want, got)
	}
	return nil
}

func (c *Conn) writeU16(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := c.rw.Write(b[:])
	return err
}

func (c *Conn) readU16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(c.rw, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (c *Conn) writeU32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := c.rw.Write(b[:])
	return err
}

func (c *Conn) readU32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(c.rw, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (c *Conn) writeU64(v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := c.rw.Write(b[:])
	return err
}

func (c *Conn) readU64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(c.rw, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (c *Conn) writeBytesU16(b []byte) error {
	if err := c.writeU16(uint16(len(b))); err != nil {
		return err
	}
	_, err := c.rw.Write(b)
	return err
}

func (c *Conn) readBytesU16() ([]byte, error) {
	n, err := c.readU16()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.rw, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Conn) writeBytesU64(b []byte) error {
	if err := c.writeU64(uint64(len(b))); err != nil {
		return err
	}
	_, err := c.rw.Write(b)
	return err
}

func (c *Conn) readBytesU64() ([]byte, error) {
	n, err := c.readU64()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.rw, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteRecipe sends a u64-length-prefixed YAML-serialised recipe.
func (c *Conn) WriteRecipe(nrv recipe.NamedRecipeVersion) error {
	b, err := yaml.Marshal(nrv)
	if err != nil {
		return fmt.Errorf("wire: marshal recipe: %w", err)
	}
	return c.writeBytesU64(b)
}

// ReadRecipe reads back a recipe sent by WriteRecipe.
func (c *Conn) ReadRecipe() (recipe.NamedRecipeVersion, error) {
	b, err := c.readBytesU64()
	if err != nil {
		return recipe.NamedRecipeVersion{}, err
	}
	var nrv recipe.NamedRecipeVersion
	if err := yaml.Unmarshal(b, &nrv); err != nil {
		return recipe.NamedRecipeVersion{}, fmt.Errorf("wire: unmarshal recipe: %w", err)
	}
	return nrv, nil
}

// SourceSender is the shape of a coordinator-side lookup that, for a
// logical source name, produces its SourceContents metadata and raw bytes.
// The coordinator streams sources through WriteSource directly; nothing in
// this module uses this type.
type SourceSender func(name string) (recipe.SourceContents, []byte, error)

// ReadSources drives the worker side of the source-streaming exchange: for
// each iteration it announces ReadyForSource, reads back a source name (a
// zero-length name ends the loop), announces NeedSource, then reads the
// u32-length YAML SourceContents and the u64-length raw bytes.
func (c *Conn) ReadSources() (map[string]recipe.SourceContents, map[string][]byte, error) {
	meta := make(map[string]recipe.SourceContents)
	data := make(map[string][]byte)
	for {
		if err := c.WriteStatus(ReadyForSource); err != nil {
			return nil, nil, err
		}
		nameBuf, err := c.readBytesU16()
		if err != nil {
			return nil, nil, err
		}
		if len(nameBuf) == 0 {
			break
		}
		name := string(nameBuf)

		if err := c.WriteStatus(NeedSource); err != nil {
			return nil, nil, err
		}
		metaLen, err := c.readU32()
		if err != nil {
			return nil, nil, err
		}
		metaBuf := make([]byte, metaLen)
		if _, err := io.ReadFull(c.rw, metaBuf); err != nil {
			return nil, nil, err
		}
		var sc recipe.SourceContents
		if err := yaml.Unmarshal(metaBuf, &sc); err != nil {
			return nil, nil, fmt.Errorf("wire: unmarshal source contents: %w", err)
		}
		dataBuf, err := c.readBytesU64()
		if err != nil {
			return nil, nil, err
		}
		meta[name] = sc
		data[name] = dataBuf
	}
	return meta, data, nil
}

// WriteSource sends one named source's metadata and bytes, in lockstep with
// the worker's ReadSources loop: it must first read back ReadyForSource and
// then NeedSource before sending the payload.
func (c *Conn) WriteSource(name string, contents recipe.SourceContents, data []byte) error {
	if err := c.ExpectStatus(ReadyForSource); err != nil {
		return err
	}
	if err := c.writeBytesU16([]byte(name)); err != nil {
		return err
	}
	if err := c.ExpectStatus(NeedSource); err != nil {
		return err
	}
	metaBuf, err := yaml.Marshal(contents)
	if err != nil {
		return fmt.Errorf("wire: marshal source contents: %w", err)
	}
	if err := c.writeU32(uint32(len(metaBuf))); err != nil {
		return err
	}
	if _, err := c.rw.Write(metaBuf); err != nil {
		return err
	}
	return c.writeBytesU64(data)
}

// FinishSources sends the zero-length name that ends the source-streaming
// loop; it must first read back ReadyForSource.
func (c *Conn) FinishSources() error {
	if err := c.ExpectStatus(ReadyForSource); err != nil {
		return err
	}
	return c.writeU16(0)
}

// ReadDeps drives the worker side of dependency-artefact streaming.
func (c *Conn) ReadDeps() (map[string][]byte, error) {
	data := make(map[string][]byte)
	for {
		if err := c.WriteStatus(ReadyForDep); err != nil {
			return nil, err
		}
		nameBuf, err := c.readBytesU16()
		if err != nil {
			return nil, err
		}
		if len(nameBuf) == 0 {
			break
		}
		name := string(nameBuf)
		if err := c.WriteStatus(NeedDep); err != nil {
			return nil, err
		}
		depBuf, err := c.readBytesU64()
		if err != nil {
			return nil, err
		}
		data[name] = depBuf
	}
	return data, nil
}

// WriteDep sends one "name:version" dependency's archive bytes.
func (c *Conn) WriteDep(name string, data []byte) error {
	if err := c.ExpectStatus(ReadyForDep); err != nil {
		return err
	}
	if err := c.writeBytesU16([]byte(name)); err != nil {
		return err
	}
	if err := c.ExpectStatus(NeedDep); err != nil {
		return err
	}
	return c.writeBytesU64(data)
}

// FinishDeps sends the zero-length name that ends the dep-streaming loop.
func (c *Conn) FinishDeps() error {
	if err := c.ExpectStatus(ReadyForDep); err != nil {
		return err
	}
	return c.writeU16(0)
}

// ReadOverlays drives the worker side of overlay-file streaming. Paths are
// raw OS bytes (treated here as UTF-8, since recipe trees are not expected
// to contain non-UTF-8 names).
func (c *Conn) ReadOverlays() (map[string][]byte, error) {
	data := make(map[string][]byte)
	for {
		if err := c.WriteStatus(ReadyForOverlay); err != nil {
			return nil, err
		}
		pathBuf, err := c.readBytesU16()
		if err != nil {
			return nil, err
		}
		if len(pathBuf) == 0 {
			break
		}
		path := string(pathBuf)
		if err := c.WriteStatus(NeedOverlay); err != nil {
			return nil, err
		}
		fileBuf, err := c.readBytesU64()
		if err != nil {
			return nil, err
		}
		data[path] = fileBuf
	}
	return data, nil
}

// WriteOverlay sends one overlay file's path and bytes.
func (c *Conn) WriteOverlay(path string, data []byte) error {
	if err := c.ExpectStatus(ReadyForOverlay); err != nil {
		return err
	}
	if err := c.writeBytesU16([]byte(path)); err != nil {
		return err
	}
	if err := c.ExpectStatus(NeedOverlay); err != nil {
		return err
	}
	return c.writeBytesU64(data)
}

// FinishOverlays sends the zero-length path that ends the overlay-streaming
// loop.
func (c *Conn) FinishOverlays() error {
	if err := c.ExpectStatus(ReadyForOverlay); err != nil {
		return err
	}
	return c.writeU16(0)
}

// ReadEnvs drives the worker side of the single-shot env-map exchange.
func (c *Conn) ReadEnvs() (map[string]string, error) {
	if err := c.WriteStatus(ReadyForEnvs); err != nil {
		return nil, err
	}
	count, err := c.readU16()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, count)
	for i := 0; i < int(count); i++ {
		k, err := c.readBytesU16()
		if err != nil {
			return nil, err
		}
		v, err := c.readBytesU16()
		if err != nil {
			return nil, err
		}
		out[string(k)] = string(v)
	}
	return out, nil
}

// WriteEnvs sends the resolved env map, after first reading back
// ReadyForEnvs.
func (c *Conn) WriteEnvs(envs map[string]string) error {
	if err := c.ExpectStatus(ReadyForEnvs); err != nil {
		return err
	}
	if err := c.writeU16(uint16(len(envs))); err != nil {
		return err
	}
	for k, v := range envs {
		if err := c.writeBytesU16([]byte(k)); err != nil {
			return err
		}
		if err := c.writeBytesU16([]byte(v)); err != nil {
			return err
		}
	}
	return nil
}

// WriteArchive sends the finished build: a BuildComplete tag, exactly 64
// ASCII hex bytes (the artefact's SHA-256), then the u64-length tar bytes.
func (c *Conn) WriteArchive(hash string, archive []byte) error {
	if len(hash) != 64 {
		return fmt.Errorf("wire: hash must be 64 hex characters, got %d", len(hash))
	}
	if err := c.WriteStatus(BuildComplete); err != nil {
		return err
	}
	if _, err := c.rw.Write([]byte(hash)); err != nil {
		return err
	}
	return c.writeBytesU64(archive)
}

// ReadArchive reads back a hash+tar pair written by WriteArchive, having
// already consumed the BuildComplete status tag.
func (c *Conn) ReadArchive() (hash string, archive []byte, err error) {
	var hb [64]byte
	if _, err := io.ReadFull(c.rw, hb[:]); err != nil {
		return "", nil, err
	}
	archive, err = c.readBytesU64()
	if err != nil {
		return "", nil, err
	}
	return string(hb[:]), archive, nil
}
