// Package crawlers 提供站点镜像的核心组件
//
// # 概述
//
// crawlers包负责从入口URL出发, 在范围内以广度优先方式抓取页面及其引用的资源,
// 保存为本地目录树, 并在抓取结束后把引用改写为本地相对路径。
//
// # 核心组件
//
// ## URL规范化与范围过滤
//
// Canonicalize 把引用解析为绝对地址并规范化(小写主机、去默认端口、去片段、空路径补"/")。
// Scope 判断URL是否与入口同主机, 或在启用子域名时属于同一可注册域名。
//
//	canonical, err := Canonicalize("../img/a.png#x", "https://Example.com:443/docs/")
//	// https://example.com/img/a.png
//
// ## 资源分类与本地路径
//
// Classify 优先根据Content-Type判断资源类型, 缺失或笼统时回退到扩展名。
// Storage.LocalPath 把URL映射为输出目录下的相对路径:
//   - 以"/"结尾的路径保存为 index.html
//   - 无扩展名的html追加 .html
//   - 查询串折叠进文件名, 不同查询对应不同文件
//   - 其它主机的资源保存在 _hosts/<host>/ 下
//
// ## 链接提取
//
// ExtractLinks 使用goquery提取HTML属性、srcset、内联样式、<style>、meta refresh中的引用,
// CSS中的 url() 与 @import 通过 gorilla/css 扫描器提取。
//
// ## 前沿队列 (Frontier)
//
// 按深度分桶的队列与访问登记表, TryEnqueue 原子地完成"检查并登记",
// 保证每个URL至多被抓取一次。Dequeue 在队列为空且没有处理中的URL时返回false。
//
// ## 抓取执行 (Pool / Executor)
//
// Pool 启动固定数量的worker; Executor 在每次请求前经过全局 Pacer 节流,
// 仅对临时错误(超时、连接重置、429/503/504)按有上限的指数退避重试。
//
//	executor := NewExecutor(NewStaticFetcher(config, headers), NewPacer(time.Second), NewRetryPolicy(config))
//	result, attempts, err := executor.Execute(ctx, "https://example.com/")
//
// ## 链接重写与完整性校验
//
// Rewriter 在抓取结束后改写已保存的html/css, 已下载资源指向本地相对路径,
// 站外或失败的引用保持原样, 重复执行不产生新的修改。
// Verifier 重新扫描所有已保存文件, 报告被引用但既未下载也未记录失败的URL。
//
// # 并发安全
//
// Frontier、Pacer、RobotsPolicy、StaticFetcher 可被多个worker并发调用。
// 统计数据只由编排器的结果消费者写入。
package crawlers
