package storage

// OpKind distinguishes batch operations.
type OpKind uint8

const (
	OpPut OpKind = iota + 1
	OpDelete
)

// Op is a single batch operation. Put values are already sealed.
type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
}

// Batch collects puts and deletes that must land together.
type Batch struct {
	ops  []Op
	size int
}

func NewBatch() *Batch {
	return &Batch{}
}

// Put records key=value. The value is sealed with a checksum envelope.
func (b *Batch) Put(key, value []byte) {
	sealed := Seal(value)
	b.ops = append(b.ops, Op{Kind: OpPut, Key: append([]byte{}, key...), Value: sealed})
	b.size += len(key) + len(sealed)
}

// PutRecord encodes v and records it under key.
func (b *Batch) PutRecord(key []byte, v any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	b.Put(key, data)
	return nil
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Op{Kind: OpDelete, Key: append([]byte{}, key...)})
	b.size += len(key)
}

// Append moves every operation of other to the end of b.
func (b *Batch) Append(other *Batch) {
	b.ops = append(b.ops, other.ops...)
	b.size += other.size
}

func (b *Batch) Ops() []Op { return b.ops }

func (b *Batch) Len() int { return len(b.ops) }

// Size is the approximate number of bytes the batch will write.
func (b *Batch) Size() int { return b.size }

func (b *Batch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}
