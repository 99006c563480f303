package grpcstore

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pilacorp/go-twin-sdk/store/index"
)

// Field names of the Struct messages.
const (
	fieldKey       = "key"
	fieldData      = "data"
	fieldCID       = "cid"
	fieldWritten   = "written"
	fieldUpdatedAt = "updatedAt"
)

func writeRequest(key string, data []byte) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldKey:  structpb.NewStringValue(key),
		fieldData: structpb.NewStringValue(base64.StdEncoding.EncodeToString(data)),
	}}
}

func parseWriteRequest(in *structpb.Struct) (string, []byte, error) {
	key := in.GetFields()[fieldKey].GetStringValue()
	data, err := base64.StdEncoding.DecodeString(in.GetFields()[fieldData].GetStringValue())
	if err != nil {
		return "", nil, fmt.Errorf("invalid data: %w", err)
	}

	return key, data, nil
}

func writeReply(id cid.Cid, written bool) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldCID:     structpb.NewStringValue(id.String()),
		fieldWritten: structpb.NewBoolValue(written),
	}}
}

func parseWriteReply(out *structpb.Struct) (cid.Cid, bool, error) {
	id, err := decodeCID(out.GetFields()[fieldCID].GetStringValue())
	if err != nil {
		return cid.Undef, false, err
	}

	return id, out.GetFields()[fieldWritten].GetBoolValue(), nil
}

func entriesReply(entries []index.Entry) *structpb.ListValue {
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(entries))}
	for _, e := range entries {
		out.Values = append(out.Values, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			fieldKey:       structpb.NewStringValue(e.Key),
			fieldCID:       structpb.NewStringValue(e.CID.String()),
			fieldUpdatedAt: structpb.NewStringValue(e.UpdatedAt.UTC().Format(time.RFC3339Nano)),
		}}))
	}

	return out
}

func parseEntriesReply(out *structpb.ListValue) ([]index.Entry, error) {
	entries := make([]index.Entry, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		f := v.GetStructValue().GetFields()

		id, err := decodeCID(f[fieldCID].GetStringValue())
		if err != nil {
			return nil, err
		}
		e := index.Entry{Key: f[fieldKey].GetStringValue(), CID: id}
		if ts := f[fieldUpdatedAt].GetStringValue(); ts != "" {
			if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
				return nil, fmt.Errorf("entry %q: invalid updatedAt: %w", e.Key, err)
			}
		}
		entries = append(entries, e)
	}

	return entries, nil
}
