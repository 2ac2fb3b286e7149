package model

// MetadataText 是向量索引条目中保存原始文本的元数据键。
const MetadataText = "text"

// MetadataDataset 记录条目来自哪个数据集。
const MetadataDataset = "dataset"

// DocumentChunk 是写入向量索引的一条记录。
// ID 为记录在数据集中的十进制下标，Metadata[MetadataText] 为原文。
type DocumentChunk struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Embedding []float32         `json:"-"`
	Metadata  map[string]string `json:"metadata"`
}

// SourceDocument 是一次检索命中的结果。
type SourceDocument struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
