package export

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// onnx.proto field numbers touched by the rewrite. Everything else is
// carried over byte for byte.
const (
	modelProducerName    protowire.Number = 2
	modelProducerVersion protowire.Number = 3
	modelGraph           protowire.Number = 7
	modelOpsetImport     protowire.Number = 8

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2

	graphNode              protowire.Number = 1
	graphInitializer       protowire.Number = 5
	graphInput             protowire.Number = 11
	graphOutput            protowire.Number = 12
	graphValueInfo         protowire.Number = 13
	graphSparseInitializer protowire.Number = 15

	nodeInput  protowire.Number = 1
	nodeOutput protowire.Number = 2
	nodeOpType protowire.Number = 4
	nodeDomain protowire.Number = 7

	tensorName       protowire.Number = 8
	sparseTensorVals protowire.Number = 1

	valueInfoName protowire.Number = 1
	valueInfoType protowire.Number = 2

	typeTensor protowire.Number = 1

	tensorTypeElem  protowire.Number = 1
	tensorTypeShape protowire.Number = 2

	shapeDim protowire.Number = 1

	dimValue protowire.Number = 1
	dimParam protowire.Number = 2
)

const elemFloat = 1

type field struct {
	num protowire.Number
	typ protowire.Type
	raw []byte
	val []byte
	u   uint64
}

func parseFields(b []byte) ([]field, error) {
	var fs []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		m := protowire.ConsumeFieldValue(num, typ, b[n:])
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		f := field{num: num, typ: typ, raw: b[:n+m]}
		switch typ {
		case protowire.BytesType:
			f.val, _ = protowire.ConsumeBytes(b[n:])
		case protowire.VarintType:
			f.u, _ = protowire.ConsumeVarint(b[n:])
		}
		fs = append(fs, f)
		b = b[n+m:]
	}
	return fs, nil
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// stringField returns the last occurrence of a string field, as proto3 does.
func stringField(fs []field, num protowire.Number) string {
	var s string
	for _, f := range fs {
		if f.num == num && f.typ == protowire.BytesType {
			s = string(f.val)
		}
	}
	return s
}

// Summary describes an exported graph.
type Summary struct {
	SourceOpset int64
	Inputs      []string
	Outputs     []string
	Nodes       int
	Ops         map[string]int
}

// rewrite describes a single-input graph: the dummy batch shape goes to the
// input, the traced shape to the first output.
type rewrite struct {
	inputNames  []string
	outputNames []string
	inputDims   []int64
	outputDims  []int64
}

type valueInfo struct {
	name   string
	fields []field
	elem   uint64
	dims   []dim
}

// dim is a single shape entry; value is 0 when the dimension is symbolic or
// unknown.
type dim struct {
	value int64
	param string
}

func parseValueInfo(b []byte) (valueInfo, error) {
	fs, err := parseFields(b)
	if err != nil {
		return valueInfo{}, err
	}
	vi := valueInfo{name: stringField(fs, valueInfoName), fields: fs}
	for _, f := range fs {
		if f.num != valueInfoType || f.typ != protowire.BytesType {
			continue
		}
		tfs, err := parseFields(f.val)
		if err != nil {
			return valueInfo{}, err
		}
		for _, tf := range tfs {
			if tf.num != typeTensor || tf.typ != protowire.BytesType {
				continue
			}
			if err := vi.parseTensorType(tf.val); err != nil {
				return valueInfo{}, err
			}
		}
	}
	return vi, nil
}

func (vi *valueInfo) parseTensorType(b []byte) error {
	fs, err := parseFields(b)
	if err != nil {
		return err
	}
	for _, f := range fs {
		switch {
		case f.num == tensorTypeElem && f.typ == protowire.VarintType:
			vi.elem = f.u
		case f.num == tensorTypeShape && f.typ == protowire.BytesType:
			sfs, err := parseFields(f.val)
			if err != nil {
				return err
			}
			vi.dims = vi.dims[:0]
			for _, sf := range sfs {
				if sf.num != shapeDim || sf.typ != protowire.BytesType {
					continue
				}
				dfs, err := parseFields(sf.val)
				if err != nil {
					return err
				}
				var d dim
				for _, df := range dfs {
					switch {
					case df.num == dimValue && df.typ == protowire.VarintType:
						d.value = int64(df.u)
					case df.num == dimParam && df.typ == protowire.BytesType:
						d.param = string(df.val)
					}
				}
				vi.dims = append(vi.dims, d)
			}
		}
	}
	return nil
}

// encodeValueInfo writes name and a static tensor type, keeping any other
// ValueInfoProto fields (doc_string, metadata) as they were.
func encodeValueInfo(vi valueInfo, name string, dims []int64) []byte {
	var shape []byte
	for _, d := range dims {
		shape = appendBytes(shape, shapeDim, appendVarint(nil, dimValue, uint64(d)))
	}
	var tensor []byte
	tensor = appendVarint(tensor, tensorTypeElem, vi.elem)
	tensor = appendBytes(tensor, tensorTypeShape, shape)

	var b []byte
	b = appendString(b, valueInfoName, name)
	b = appendBytes(b, valueInfoType, appendBytes(nil, typeTensor, tensor))
	for _, f := range vi.fields {
		if f.num == valueInfoName || f.num == valueInfoType {
			continue
		}
		b = append(b, f.raw...)
	}
	return b
}

// renameValueInfo only replaces the name.
func renameValueInfo(vi valueInfo, name string) []byte {
	b := appendString(nil, valueInfoName, name)
	for _, f := range vi.fields {
		if f.num == valueInfoName {
			continue
		}
		b = append(b, f.raw...)
	}
	return b
}

func checkDims(what string, declared []dim, actual []int64) error {
	if len(declared) == 0 {
		return nil
	}
	if len(declared) != len(actual) {
		return fmt.Errorf("%s declares rank %d, traced rank %d", what, len(declared), len(actual))
	}
	for i, d := range declared {
		if d.value > 0 && d.value != actual[i] {
			return fmt.Errorf("%s dimension %d is %d, traced %d", what, i, d.value, actual[i])
		}
	}
	return nil
}

// rewriteModel checks that the serialized ModelProto in raw can be expressed
// at TargetOpset and returns the static-shaped, renamed copy.
func rewriteModel(raw []byte, rw rewrite) ([]byte, Summary, error) {
	var sum Summary
	fs, err := parseFields(raw)
	if err != nil {
		return nil, sum, fmt.Errorf("parse model: %w", err)
	}

	var graph []byte
	graphs := 0
	foundOpset := false
	for _, f := range fs {
		switch {
		case f.num == modelGraph && f.typ == protowire.BytesType:
			graph = f.val
			graphs++
		case f.num == modelOpsetImport && f.typ == protowire.BytesType:
			ofs, err := parseFields(f.val)
			if err != nil {
				return nil, sum, fmt.Errorf("parse opset_import: %w", err)
			}
			if !isDefaultDomain(stringField(ofs, opsetDomain)) {
				continue
			}
			for _, of := range ofs {
				if of.num == opsetVersion && of.typ == protowire.VarintType {
					sum.SourceOpset = int64(of.u)
				}
			}
			foundOpset = true
		}
	}
	if graphs != 1 {
		return nil, sum, fmt.Errorf("model holds %d graphs, expected 1", graphs)
	}
	if !foundOpset {
		return nil, sum, errors.New("model imports no default-domain opset")
	}
	if sum.SourceOpset > TargetOpset {
		return nil, sum, fmt.Errorf("model uses opset %d, newer than target opset %d", sum.SourceOpset, TargetOpset)
	}

	newGraph, err := rewriteGraph(graph, rw, &sum)
	if err != nil {
		return nil, sum, err
	}

	var out []byte
	for _, f := range fs {
		switch {
		case f.num == modelGraph:
			out = appendBytes(out, modelGraph, newGraph)
		case f.num == modelOpsetImport && f.typ == protowire.BytesType:
			ofs, _ := parseFields(f.val)
			domain := stringField(ofs, opsetDomain)
			if !isDefaultDomain(domain) {
				out = append(out, f.raw...)
				continue
			}
			var opset []byte
			opset = appendString(opset, opsetDomain, domain)
			opset = appendVarint(opset, opsetVersion, TargetOpset)
			out = appendBytes(out, modelOpsetImport, opset)
		case f.num == modelProducerName, f.num == modelProducerVersion:
		default:
			out = append(out, f.raw...)
		}
	}
	out = appendString(out, modelProducerName, ProducerName)
	return out, sum, nil
}

func rewriteGraph(graph []byte, rw rewrite, sum *Summary) ([]byte, error) {
	fs, err := parseFields(graph)
	if err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}

	initializers := map[string]struct{}{}
	produced := map[string]struct{}{}
	var inputs, outputs []valueInfo
	sum.Ops = map[string]int{}
	for _, f := range fs {
		if f.typ != protowire.BytesType {
			continue
		}
		switch f.num {
		case graphInitializer:
			tfs, err := parseFields(f.val)
			if err != nil {
				return nil, fmt.Errorf("parse initializer: %w", err)
			}
			initializers[stringField(tfs, tensorName)] = struct{}{}
		case graphSparseInitializer:
			sfs, err := parseFields(f.val)
			if err != nil {
				return nil, fmt.Errorf("parse sparse initializer: %w", err)
			}
			for _, sf := range sfs {
				if sf.num != sparseTensorVals || sf.typ != protowire.BytesType {
					continue
				}
				tfs, err := parseFields(sf.val)
				if err != nil {
					return nil, fmt.Errorf("parse sparse initializer: %w", err)
				}
				initializers[stringField(tfs, tensorName)] = struct{}{}
			}
		case graphNode:
			nfs, err := parseFields(f.val)
			if err != nil {
				return nil, fmt.Errorf("parse node: %w", err)
			}
			op, domain := stringField(nfs, nodeOpType), stringField(nfs, nodeDomain)
			if !isDefaultDomain(domain) {
				return nil, fmt.Errorf("operator %s is in domain %q, only the default domain can be exported", op, domain)
			}
			if _, ok := controlFlowOps[op]; ok {
				return nil, fmt.Errorf("control flow operator %s cannot be exported as a static graph", op)
			}
			since, ok := opset9Ops[op]
			if !ok {
				return nil, fmt.Errorf("operator %s is not available at opset %d", op, TargetOpset)
			}
			if since > sum.SourceOpset {
				return nil, fmt.Errorf("operator %s changed at opset %d, model targets opset %d", op, since, sum.SourceOpset)
			}
			for _, nf := range nfs {
				if nf.num == nodeOutput && nf.typ == protowire.BytesType {
					produced[string(nf.val)] = struct{}{}
				}
			}
			sum.Ops[op]++
			sum.Nodes++
		case graphOutput:
			vi, err := parseValueInfo(f.val)
			if err != nil {
				return nil, fmt.Errorf("parse graph output: %w", err)
			}
			outputs = append(outputs, vi)
		}
	}
	for _, f := range fs {
		if f.num != graphInput || f.typ != protowire.BytesType {
			continue
		}
		vi, err := parseValueInfo(f.val)
		if err != nil {
			return nil, fmt.Errorf("parse graph input: %w", err)
		}
		if _, ok := initializers[vi.name]; !ok {
			inputs = append(inputs, vi)
		}
	}

	if len(inputs) != len(rw.inputNames) {
		return nil, fmt.Errorf("graph has %d inputs, %d names given", len(inputs), len(rw.inputNames))
	}
	if len(outputs) != len(rw.outputNames) {
		return nil, fmt.Errorf("graph has %d outputs, %d names given", len(outputs), len(rw.outputNames))
	}
	if inputs[0].elem != elemFloat {
		return nil, fmt.Errorf("graph input %q has element type %d, expected float", inputs[0].name, inputs[0].elem)
	}
	if err := checkDims("graph input "+inputs[0].name, inputs[0].dims, rw.inputDims); err != nil {
		return nil, err
	}
	if err := checkDims("graph output "+outputs[0].name, outputs[0].dims, rw.outputDims); err != nil {
		return nil, err
	}

	renames := map[string]string{}
	for i, vi := range inputs {
		renames[vi.name] = rw.inputNames[i]
	}
	for i, vi := range outputs {
		renames[vi.name] = rw.outputNames[i]
	}
	for from, to := range renames {
		if from == to {
			continue
		}
		_, isInit := initializers[to]
		_, isProduced := produced[to]
		if _, renamed := renames[to]; (isInit || isProduced) && !renamed {
			return nil, fmt.Errorf("name %q is already used inside the graph", to)
		}
	}
	rename := func(s string) string {
		if to, ok := renames[s]; ok {
			return to
		}
		return s
	}

	var out []byte
	in, outIdx := 0, 0
	for _, f := range fs {
		if f.typ != protowire.BytesType {
			out = append(out, f.raw...)
			continue
		}
		switch f.num {
		case graphNode:
			out = appendBytes(out, graphNode, renameNode(f.val, rename))
		case graphInput:
			vi, _ := parseValueInfo(f.val)
			if _, ok := initializers[vi.name]; ok {
				out = append(out, f.raw...)
				continue
			}
			out = appendBytes(out, graphInput, encodeValueInfo(vi, rw.inputNames[in], rw.inputDims))
			sum.Inputs = append(sum.Inputs, rw.inputNames[in])
			in++
		case graphOutput:
			vi := outputs[outIdx]
			if outIdx == 0 {
				out = appendBytes(out, graphOutput, encodeValueInfo(vi, rw.outputNames[outIdx], rw.outputDims))
			} else {
				out = appendBytes(out, graphOutput, renameValueInfo(vi, rw.outputNames[outIdx]))
			}
			sum.Outputs = append(sum.Outputs, rw.outputNames[outIdx])
			outIdx++
		case graphValueInfo:
			vi, err := parseValueInfo(f.val)
			if err != nil {
				return nil, fmt.Errorf("parse value_info: %w", err)
			}
			out = appendBytes(out, graphValueInfo, renameValueInfo(vi, rename(vi.name)))
		default:
			out = append(out, f.raw...)
		}
	}
	return out, nil
}

func renameNode(b []byte, rename func(string) string) []byte {
	fs, _ := parseFields(b)
	var out []byte
	for _, f := range fs {
		if (f.num == nodeInput || f.num == nodeOutput) && f.typ == protowire.BytesType {
			out = appendString(out, f.num, rename(string(f.val)))
			continue
		}
		out = append(out, f.raw...)
	}
	return out
}
