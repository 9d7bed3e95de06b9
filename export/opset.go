package export

// opset9Ops maps every default-domain operator available at opset 9 to the
// opset that introduced its opset 9 definition. A model written against an
// older opset can only be relabelled when none of its operators changed in
// between.
var opset9Ops = map[string]int64{
	"Abs": 6, "Acos": 7, "Acosh": 9, "Add": 7, "And": 7, "ArgMax": 1, "ArgMin": 1,
	"Asin": 7, "Asinh": 9, "Atan": 7, "Atanh": 9, "AveragePool": 7,
	"BatchNormalization": 9, "Cast": 9, "Ceil": 6, "Clip": 6, "Compress": 9,
	"Concat": 4, "Constant": 9, "ConstantOfShape": 9, "Conv": 1, "ConvTranspose": 1,
	"Cos": 7, "Cosh": 9, "DepthToSpace": 1, "Div": 7, "Dropout": 7, "Elu": 6,
	"Equal": 7, "Erf": 9, "Exp": 6, "Expand": 8, "EyeLike": 9, "Flatten": 9,
	"Floor": 6, "GRU": 7, "Gather": 1, "Gemm": 9, "GlobalAveragePool": 1,
	"GlobalLpPool": 2, "GlobalMaxPool": 1, "Greater": 9, "HardSigmoid": 6,
	"Hardmax": 1, "Identity": 1, "If": 1, "InstanceNormalization": 6, "IsNaN": 9,
	"LRN": 1, "LSTM": 7, "LeakyRelu": 6, "Less": 9, "Log": 6, "LogSoftmax": 1,
	"Loop": 1, "LpNormalization": 1, "LpPool": 2, "MatMul": 9, "Max": 8,
	"MaxPool": 8, "MaxRoiPool": 1, "MaxUnpool": 9, "Mean": 8,
	"MeanVarianceNormalization": 9, "Min": 8, "Mul": 7, "Multinomial": 7, "Neg": 6,
	"NonZero": 9, "Not": 1, "OneHot": 9, "Or": 7, "PRelu": 9, "Pad": 2, "Pow": 7,
	"RNN": 7, "RandomNormal": 1, "RandomNormalLike": 1, "RandomUniform": 1,
	"RandomUniformLike": 1, "Reciprocal": 6, "ReduceL1": 1, "ReduceL2": 1,
	"ReduceLogSum": 1, "ReduceLogSumExp": 1, "ReduceMax": 1, "ReduceMean": 1,
	"ReduceMin": 1, "ReduceProd": 1, "ReduceSum": 1, "ReduceSumSquare": 1, "Relu": 6,
	"Reshape": 5, "Scan": 9, "Scatter": 9, "Selu": 6, "Shape": 1, "Shrink": 9,
	"Sigmoid": 6, "Sign": 9, "Sin": 7, "Sinh": 9, "Size": 1, "Slice": 1, "Softmax": 1,
	"Softplus": 1, "Softsign": 1, "SpaceToDepth": 1, "Split": 2, "Sqrt": 6,
	"Squeeze": 1, "Sub": 7, "Sum": 8, "Tan": 7, "Tanh": 6, "TfIdfVectorizer": 9,
	"Tile": 6, "TopK": 1, "Transpose": 1, "Unsqueeze": 1, "Upsample": 9, "Where": 9,
	"Xor": 7,
}

// controlFlowOps exist at opset 9 but carry subgraphs, which a static
// graph export does not allow.
var controlFlowOps = map[string]struct{}{
	"If":   {},
	"Loop": {},
	"Scan": {},
}

func isDefaultDomain(domain string) bool {
	return domain == "" || domain == "ai.onnx"
}
