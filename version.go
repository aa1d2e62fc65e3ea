package permip

// Version 当前版本
const Version = "0.1.0"
