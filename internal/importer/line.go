// Package importer places orders in bulk from gzip-compressed NDJSON files.
//
// Each line carries a client reference and an order request:
//
//	{"ref":"po-1001","customerId":7,"items":[{"productId":3,"quantity":2}]}
//
// A reference seen in an earlier file is a duplicate; the first file wins.
package importer

import (
	"bufio"
	"context"
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"

	"github.com/xenking/order-management/internal/domain/order"
)

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 1 << 20

// Line is a decoded import record.
type Line struct {
	Ref     string
	Request order.CreateRequest
}

// DecodeLine decodes a single NDJSON record. The reference is required.
func DecodeLine(data []byte) (Line, error) {
	var l Line
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "ref":
			v, err := d.Str()
			l.Ref = v
			return err
		case "customerId":
			v, err := d.Int64()
			l.Request.CustomerID = v
			return err
		case "items", "orderItems":
			return d.Arr(func(d *jx.Decoder) error {
				var it order.ItemRequest
				err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "productId":
						v, err := d.Int64()
						it.ProductID = v
						return err
					case "quantity":
						v, err := d.Int()
						it.Quantity = v
						return err
					default:
						return d.Skip()
					}
				})
				l.Request.Items = append(l.Request.Items, it)
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Line{}, errors.Wrap(err, "decode line")
	}
	if l.Ref == "" {
		return Line{}, errors.New("decode line: ref is required")
	}
	return l, nil
}

// streamFile opens a gzip-compressed NDJSON file and calls fn for each
// non-empty line. The slice passed to fn is only valid during the call.
func streamFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// streamRefs calls fn with the reference of every decodable line in path.
// Undecodable lines are left for the import pass to report.
func streamRefs(ctx context.Context, path string, fn func(ref string)) error {
	return streamFile(ctx, path, func(line []byte) error {
		if l, err := DecodeLine(line); err == nil {
			fn(l.Ref)
		}
		return nil
	})
}
