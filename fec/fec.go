// Package fec implements the GF(2^8) Reed-Solomon erasure code that backs
// both the video multi-block FEC groups in video/fecqueue.go and the fixed
// RS(4,2) audio groups in audio/fec.go. Both callers describe their state in
// terms of "shards": a block's data packets plus the parity packets encoded
// alongside them, with a present[] mask marking which ones actually arrived.
package fec

import (
	"errors"
	"sync"
)

const (
	// galoisBits is the width of the field, GF(2^8).
	galoisBits = 8
	// primitivePoly is GF(2^8)'s primitive polynomial, bit i of GFPP set
	// means x^i is present in x^8 + ... + 1.
	primitivePoly = "101110001"
	// galoisOrder is 2^galoisBits - 1, the size of the multiplicative group.
	galoisOrder = (1 << galoisBits) - 1
	// DataShardsMax bounds data+parity shards to what fits in a byte index.
	DataShardsMax = 255
)

var (
	// ErrTooManyShards indicates the requested data+parity count is out of range.
	ErrTooManyShards = errors.New("too many shards")
	// ErrNotEnoughShards indicates fewer surviving shards than needed to reconstruct.
	ErrNotEnoughShards = errors.New("not enough shards for reconstruction")
	// ErrInvalidShardSize indicates mismatched or missing shard buffers.
	ErrInvalidShardSize = errors.New("invalid shard size")
)

type elem = uint8

// field holds the precomputed log/antilog/inverse/multiply tables for
// GF(2^8). A single instance is shared by every ReedSolomon codec since the
// field itself never depends on the shard counts chosen by a caller.
type field struct {
	exp     [2 * galoisOrder]elem
	log     [galoisOrder + 1]int
	inverse [galoisOrder + 1]elem
	mulTbl  [(galoisOrder + 1) * (galoisOrder + 1)]elem
}

var (
	shared     field
	sharedOnce sync.Once
)

// Init builds the shared GF(2^8) tables. New calls it automatically, so
// callers only need it to pay the setup cost before the first stream starts.
func Init() {
	sharedOnce.Do(func() {
		shared.buildLogTables()
		shared.buildMulTable()
	})
}

// ReedSolomon is a systematic Reed-Solomon codec over a fixed data/parity
// shard split: the first dataShards outputs equal the inputs verbatim, and
// the remaining parityShards are linear combinations computed from a
// Cauchy-matrix encoding (see New).
type ReedSolomon struct {
	dataShards   int
	parityShards int
	totalShards  int
	encodeMatrix []elem
	parityRows   []elem
}

// New builds a codec for dataShards data shards and parityShards parity
// shards, failing if the total would overflow a byte-indexed shard table.
func New(dataShards, parityShards int) (*ReedSolomon, error) {
	Init()

	total := dataShards + parityShards
	if total > DataShardsMax || dataShards <= 0 || parityShards <= 0 {
		return nil, ErrTooManyShards
	}

	rs := &ReedSolomon{
		dataShards:   dataShards,
		parityShards: parityShards,
		totalShards:  total,
	}

	identity := make([]elem, dataShards*total)
	for row := 0; row < total; row++ {
		for col := 0; col < dataShards; col++ {
			if row == col {
				identity[row*dataShards+col] = 1
			}
		}
	}

	top := extractSubmatrix(identity, 0, 0, dataShards, dataShards, dataShards)
	if err := invert(top, dataShards); err != nil {
		return nil, err
	}

	rs.encodeMatrix = matMul(identity, total, dataShards, top, dataShards, dataShards)

	// Parity rows use a Cauchy construction so any dataShards-sized subset of
	// rows (data rows plus surviving parity rows) remains invertible.
	for j := 0; j < parityShards; j++ {
		for i := 0; i < dataShards; i++ {
			rs.encodeMatrix[(dataShards+j)*dataShards+i] = shared.inverse[(parityShards+i)^j]
		}
	}

	rs.parityRows = extractSubmatrix(rs.encodeMatrix, dataShards, 0, total, dataShards, dataShards)
	return rs, nil
}

// Encode fills the parity shards in shards[dataShards:] from shards[:dataShards].
// Every shard, data and parity alike, must already be allocated to the same length.
func (rs *ReedSolomon) Encode(shards [][]byte) error {
	if len(shards) != rs.totalShards {
		return ErrInvalidShardSize
	}

	shardLen := len(shards[0])
	for _, s := range shards {
		if len(s) != shardLen {
			return ErrInvalidShardSize
		}
	}

	combineShards(rs.parityRows, shards[:rs.dataShards], shards[rs.dataShards:], rs.dataShards, rs.parityShards, shardLen)
	return nil
}

// Reconstruct fills in the missing entries of shards[:dataShards] using
// whichever parity shards present[] marks as having arrived. Missing shards
// may be nil; Reconstruct allocates them. It is a no-op once every data
// shard is already present, and returns ErrNotEnoughShards if fewer parity
// shards survived than data shards were lost.
func (rs *ReedSolomon) Reconstruct(shards [][]byte, present []bool) error {
	if len(shards) != rs.totalShards || len(present) != rs.totalShards {
		return ErrInvalidShardSize
	}

	shardLen := 0
	for i, s := range shards {
		if !present[i] {
			continue
		}
		if shardLen == 0 {
			shardLen = len(s)
		} else if len(s) != shardLen {
			return ErrInvalidShardSize
		}
	}
	if shardLen == 0 {
		return ErrNotEnoughShards
	}

	var missingData []int
	for i := 0; i < rs.dataShards; i++ {
		if !present[i] {
			missingData = append(missingData, i)
		}
	}
	if len(missingData) == 0 {
		return nil
	}

	var parityIdx []int
	var parityData [][]byte
	for i := rs.dataShards; i < rs.totalShards && len(parityIdx) < len(missingData); i++ {
		if present[i] {
			parityIdx = append(parityIdx, i-rs.dataShards)
			parityData = append(parityData, shards[i])
		}
	}
	if len(parityIdx) < len(missingData) {
		return ErrNotEnoughShards
	}

	decodeMatrix := make([]elem, rs.dataShards*rs.dataShards)
	inputs := make([][]byte, rs.dataShards)

	row, nextMissing := 0, 0
	for i := 0; i < rs.dataShards; i++ {
		if nextMissing < len(missingData) && i == missingData[nextMissing] {
			nextMissing++
			continue
		}
		copy(decodeMatrix[row*rs.dataShards:(row+1)*rs.dataShards], rs.encodeMatrix[i*rs.dataShards:(i+1)*rs.dataShards])
		inputs[row] = shards[i]
		row++
	}
	for i := 0; i < len(missingData) && row < rs.dataShards; i++ {
		j := rs.dataShards + parityIdx[i]
		copy(decodeMatrix[row*rs.dataShards:(row+1)*rs.dataShards], rs.encodeMatrix[j*rs.dataShards:(j+1)*rs.dataShards])
		inputs[row] = parityData[i]
		row++
	}

	if err := invert(decodeMatrix, rs.dataShards); err != nil {
		return err
	}

	outputs := make([][]byte, len(missingData))
	for i, idx := range missingData {
		if shards[idx] == nil {
			shards[idx] = make([]byte, shardLen)
		}
		outputs[i] = shards[idx]
		copy(decodeMatrix[i*rs.dataShards:], decodeMatrix[idx*rs.dataShards:(idx+1)*rs.dataShards])
	}

	combineShards(decodeMatrix, inputs, outputs, rs.dataShards, len(missingData), shardLen)
	return nil
}

// DataShards is the number of data shards this codec was built for.
func (rs *ReedSolomon) DataShards() int { return rs.dataShards }

// ParityShards is the number of parity shards this codec was built for.
func (rs *ReedSolomon) ParityShards() int { return rs.parityShards }

// TotalShards is DataShards + ParityShards.
func (rs *ReedSolomon) TotalShards() int { return rs.totalShards }

// reduce folds x back into [0, galoisOrder) the way the extended exp table
// (sized 2*galoisOrder to avoid a modulo in the hot multiply path) needs
// when a log-sum straddles the table's doubled range.
func reduce(x int) elem {
	for x >= galoisOrder {
		x -= galoisOrder
		x = (x >> galoisBits) + (x & galoisOrder)
	}
	return elem(x)
}

func (f *field) buildLogTables() {
	var mask elem = 1
	f.exp[galoisBits] = 0

	for i := 0; i < galoisBits; i++ {
		f.exp[i] = mask
		f.log[f.exp[i]] = i
		if primitivePoly[i] == '1' {
			f.exp[galoisBits] ^= mask
		}
		mask <<= 1
	}
	f.log[f.exp[galoisBits]] = galoisBits
	mask = 1 << (galoisBits - 1)

	for i := galoisBits + 1; i < galoisOrder; i++ {
		if f.exp[i-1] >= mask {
			f.exp[i] = f.exp[galoisBits] ^ ((f.exp[i-1] ^ mask) << 1)
		} else {
			f.exp[i] = f.exp[i-1] << 1
		}
		f.log[f.exp[i]] = i
	}
	f.log[0] = galoisOrder

	for i := 0; i < galoisOrder; i++ {
		f.exp[i+galoisOrder] = f.exp[i]
	}

	f.inverse[0] = 0
	f.inverse[1] = 1
	for i := 2; i <= galoisOrder; i++ {
		f.inverse[i] = f.exp[galoisOrder-f.log[i]]
	}
}

func (f *field) buildMulTable() {
	for i := 0; i < galoisOrder+1; i++ {
		for j := 0; j < galoisOrder+1; j++ {
			f.mulTbl[(i<<8)+j] = f.exp[reduce(f.log[i]+f.log[j])]
		}
	}
	for j := 0; j < galoisOrder+1; j++ {
		f.mulTbl[j] = 0
		f.mulTbl[j<<8] = 0
	}
}

func mulGF(x, y elem) elem {
	return shared.mulTbl[(int(x)<<8)+int(y)]
}

// xorMulInto adds c*src into dst in place (GF addition is XOR); a no-op
// when c is zero so callers can skip a shard's contribution cheaply.
func xorMulInto(dst, src []elem, c elem) {
	if c == 0 {
		return
	}
	row := shared.mulTbl[int(c)<<8:]
	for i := range dst {
		dst[i] ^= row[src[i]]
	}
}

// scaleInto overwrites dst with c*src.
func scaleInto(dst, src []elem, c elem) {
	if c == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	row := shared.mulTbl[int(c)<<8:]
	for i := range dst {
		dst[i] = row[src[i]]
	}
}

// invert Gauss-Jordan inverts the k x k matrix src in place over GF(2^8).
func invert(src []elem, k int) error {
	colMap := make([]int, k)
	rowMap := make([]int, k)
	pivotUsed := make([]int, k)
	identityRow := make([]elem, k)

	for col := 0; col < k; col++ {
		irow, icol := -1, -1

		if pivotUsed[col] != 1 && src[col*k+col] != 0 {
			irow, icol = col, col
		} else {
			for row := 0; row < k && icol == -1; row++ {
				if pivotUsed[row] != 1 {
					for ix := 0; ix < k; ix++ {
						if pivotUsed[ix] == 0 && src[row*k+ix] != 0 {
							irow, icol = row, ix
							break
						}
					}
				}
			}
		}
		if icol == -1 {
			return errors.New("singular matrix")
		}
		pivotUsed[icol]++

		if irow != icol {
			for ix := 0; ix < k; ix++ {
				src[irow*k+ix], src[icol*k+ix] = src[icol*k+ix], src[irow*k+ix]
			}
		}
		rowMap[col], colMap[col] = irow, icol

		pivotRow := src[icol*k : (icol+1)*k]
		c := pivotRow[icol]
		if c == 0 {
			return errors.New("singular matrix")
		}
		if c != 1 {
			c = shared.inverse[c]
			pivotRow[icol] = 1
			for ix := 0; ix < k; ix++ {
				pivotRow[ix] = mulGF(c, pivotRow[ix])
			}
		}

		identityRow[icol] = 1
		isIdentity := true
		for ix := 0; ix < k; ix++ {
			if pivotRow[ix] != identityRow[ix] {
				isIdentity = false
				break
			}
		}
		if !isIdentity {
			for ix := 0; ix < k; ix++ {
				if ix == icol {
					continue
				}
				row := src[ix*k : (ix+1)*k]
				c := row[icol]
				row[icol] = 0
				xorMulInto(row, pivotRow, c)
			}
		}
		identityRow[icol] = 0
	}

	for col := k - 1; col >= 0; col-- {
		if rowMap[col] != colMap[col] {
			for row := 0; row < k; row++ {
				src[row*k+rowMap[col]], src[row*k+colMap[col]] = src[row*k+colMap[col]], src[row*k+rowMap[col]]
			}
		}
	}
	return nil
}

func extractSubmatrix(m []elem, rmin, cmin, rmax, cmax, stride int) []elem {
	out := make([]elem, (rmax-rmin)*(cmax-cmin))
	n := 0
	for i := rmin; i < rmax; i++ {
		for j := cmin; j < cmax; j++ {
			out[n] = m[i*stride+j]
			n++
		}
	}
	return out
}

func matMul(a []elem, ar, ac int, b []elem, br, bc int) []elem {
	if ac != br {
		return nil
	}
	out := make([]elem, ar*bc)
	for r := 0; r < ar; r++ {
		for c := 0; c < bc; c++ {
			var acc elem
			for i := 0; i < ac; i++ {
				acc ^= mulGF(a[r*ac+i], b[i*bc+c])
			}
			out[r*bc+c] = acc
		}
	}
	return out
}

// combineShards applies matrixRows (outputCount x dataShards) to inputs,
// producing outputCount output shards of byteCount bytes each. Shared by
// Encode (matrixRows is the parity submatrix) and Reconstruct (matrixRows
// is the inverted decode submatrix).
func combineShards(matrixRows []elem, inputs, outputs [][]byte, dataShards, outputCount, byteCount int) {
	for c := 0; c < dataShards; c++ {
		in := inputs[c]
		for r := 0; r < outputCount; r++ {
			coeff := matrixRows[r*dataShards+c]
			if c == 0 {
				scaleInto(outputs[r], in, coeff)
			} else {
				xorMulInto(outputs[r], in, coeff)
			}
		}
	}
}
